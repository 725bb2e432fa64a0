// Package report defines the payloads a source worker publishes into the
// datastore and a destination worker consumes: domain-list reports,
// host/guest association reports, and error markers. Every report carries
// a content hash that is the sole equality predicate used for dedup, and a
// mutable lifecycle state owned exclusively by the destination worker
// handling its in-flight submission.
package report

import "github.com/cuemby/hyperwatch/pkg/types"

// State is the lifecycle of a report's remote submission.
type State int

const (
	StateCreated State = iota
	StateProcessing
	StateFinished
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateProcessing:
		return "processing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether this state is a final outcome that the
// destination worker will not continue polling past.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCanceled
}

// Report is the common contract shared by DomainListReport,
// HostGuestAssociationReport and ErrorReport.
type Report interface {
	Config() *types.Config
	State() State
	SetState(State)
	Hash() string
}

// base is embedded by every concrete report; it owns the config reference
// and the mutable lifecycle state.
type base struct {
	config *types.Config
	state  State
}

func (b *base) Config() *types.Config { return b.config }
func (b *base) State() State          { return b.state }
func (b *base) SetState(s State)      { b.state = s }
