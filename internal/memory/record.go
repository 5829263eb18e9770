package memory

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/734ai/neuroforge/internal/types"
)

// Tags reserved by the core for records it writes on its own behalf.
const (
	TagTaskHistory      = "task-history"
	TagWorkspaceContext = "workspace-context"
)

// Record is an immutable unit of stored memory content with metadata.
// Once appended, Content and Timestamp never change; updates create a new
// record whose Supersedes field references the old one.
type Record struct {
	ID         types.ID        `json:"id"`
	Content    json.RawMessage `json:"content"`
	Tags       []string        `json:"tags"`
	Timestamp  time.Time       `json:"timestamp"`
	SessionID  types.ID        `json:"session_id"`
	Supersedes types.ID        `json:"supersedes,omitempty"`
	Embedding  []float32       `json:"embedding,omitempty"`
}

// NewRecord creates a Record with a generated ID and the current UTC time.
// Tags are normalized: trimmed, lowercased duplicates removed, sorted.
func NewRecord(sessionID types.ID, content json.RawMessage, tags []string) *Record {
	return &Record{
		ID:        types.NewID(),
		Content:   content,
		Tags:      NormalizeTags(tags),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
	}
}

// Validate checks structural invariants before a record reaches storage.
func (r *Record) Validate() error {
	if err := r.ID.Validate(); err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "record id invalid", err)
	}
	if len(r.Content) == 0 {
		return types.NewError(types.VALIDATION_FAILED, "record content cannot be empty")
	}
	if !json.Valid(r.Content) {
		return types.NewError(types.VALIDATION_FAILED, "record content must be valid JSON")
	}
	if r.Timestamp.IsZero() {
		return types.NewError(types.VALIDATION_FAILED, "record timestamp cannot be zero")
	}
	return nil
}

// SizeBytes returns the byte accounting size used by the fast buffer budget.
// It counts the content payload plus tag and identifier overhead.
func (r *Record) SizeBytes() int64 {
	size := int64(len(r.ID)) + int64(len(r.Content)) + int64(len(r.SessionID))
	for _, tag := range r.Tags {
		size += int64(len(tag))
	}
	size += int64(len(r.Embedding)) * 4
	return size
}

// HasTag reports whether the record carries the given (normalized) tag.
func (r *Record) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Callers receive clones so that shared buffer
// state can never be mutated through a returned record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Content = append(json.RawMessage(nil), r.Content...)
	clone.Tags = append([]string(nil), r.Tags...)
	if r.Embedding != nil {
		clone.Embedding = append([]float32(nil), r.Embedding...)
	}
	return &clone
}

// NormalizeTags trims, lowercases, deduplicates, and sorts a tag set.
// Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))

	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}

	sort.Strings(normalized)
	return normalized
}
