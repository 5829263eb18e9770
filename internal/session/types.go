package session

import (
	"sort"
	"time"

	"github.com/734ai/neuroforge/internal/types"
)

// WorkspaceState is a point-in-time snapshot of the developer's working
// context.
type WorkspaceState struct {
	ActiveFiles []string `json:"active_files"`
	VCSBranch   string   `json:"vcs_branch,omitempty"`
	VCSRevision string   `json:"vcs_revision,omitempty"`
	VCSDirty    bool     `json:"vcs_dirty"`
}

// Normalize sorts and deduplicates the active file list in place so that
// structurally equal states compare equal regardless of input order.
func (s *WorkspaceState) Normalize() {
	if len(s.ActiveFiles) == 0 {
		return
	}
	sort.Strings(s.ActiveFiles)
	files := s.ActiveFiles[:0]
	var prev string
	for i, f := range s.ActiveFiles {
		if f == "" || (i > 0 && f == prev) {
			prev = f
			continue
		}
		files = append(files, f)
		prev = f
	}
	s.ActiveFiles = files
}

// Equal reports structural equality between two normalized states.
func (s *WorkspaceState) Equal(other *WorkspaceState) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.VCSBranch != other.VCSBranch ||
		s.VCSRevision != other.VCSRevision ||
		s.VCSDirty != other.VCSDirty ||
		len(s.ActiveFiles) != len(other.ActiveFiles) {
		return false
	}
	for i, f := range s.ActiveFiles {
		if f != other.ActiveFiles[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *WorkspaceState) Clone() *WorkspaceState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.ActiveFiles = append([]string(nil), s.ActiveFiles...)
	return &clone
}

// Session is one tracked stretch of work inside a workspace. A session
// ends when the tracker switches workspaces, which supersedes it.
type Session struct {
	ID            types.ID        `json:"id"`
	WorkspaceRoot string          `json:"workspace_root"`
	StartedAt     time.Time       `json:"started_at"`
	SupersededAt  *time.Time      `json:"superseded_at,omitempty"`
	LastSnapshot  *WorkspaceState `json:"last_snapshot,omitempty"`
}

// Active reports whether the session is still current.
func (s *Session) Active() bool {
	return s.SupersededAt == nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.SupersededAt != nil {
		t := *s.SupersededAt
		clone.SupersededAt = &t
	}
	clone.LastSnapshot = s.LastSnapshot.Clone()
	return &clone
}
