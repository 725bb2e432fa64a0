package report

import (
	"github.com/google/uuid"

	"github.com/cuemby/hyperwatch/pkg/types"
)

// ErrorReport is a marker payload signalling that a source failed to
// produce data this cycle. It carries no hash-worthy content; Hash
// returns a value unique to this instance (mirroring the original
// implementation's identity-based hash) so an ErrorReport never
// spuriously dedups against either a prior ErrorReport or the zero value
// of a destination's last-sent map.
type ErrorReport struct {
	base
	id string
}

// NewErrorReport constructs an ErrorReport for cfg.
func NewErrorReport(cfg *types.Config) *ErrorReport {
	return &ErrorReport{base: base{config: cfg, state: StateCreated}, id: uuid.NewString()}
}

func (r *ErrorReport) Hash() string { return r.id }
