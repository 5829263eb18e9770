package memory

import (
	"time"

	"github.com/734ai/neuroforge/internal/types"
)

// TagMode selects how multiple filter tags combine.
type TagMode string

const (
	// TagModeAny matches records carrying at least one of the filter tags.
	TagModeAny TagMode = "any"
	// TagModeAll matches records carrying every filter tag.
	TagModeAll TagMode = "all"
)

// Filter narrows metadata queries against the record store. Zero values
// mean "no constraint". Results are always ordered by timestamp ascending.
type Filter struct {
	Tags      []string
	TagMode   TagMode
	Since     time.Time
	Until     time.Time
	SessionID types.ID
	Limit     int
}

// Validate normalizes the filter in place and rejects malformed input.
func (f *Filter) Validate() error {
	f.Tags = NormalizeTags(f.Tags)

	switch f.TagMode {
	case "", TagModeAny, TagModeAll:
	default:
		return types.NewError(types.VALIDATION_FAILED, "tag mode must be \"any\" or \"all\"")
	}
	if f.TagMode == "" {
		f.TagMode = TagModeAny
	}

	if f.Limit < 0 {
		return types.NewError(types.VALIDATION_FAILED, "limit cannot be negative")
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return types.NewError(types.VALIDATION_FAILED, "until cannot precede since")
	}
	return nil
}
