// Package manager defines the interface hyperwatch's destination workers
// use to talk to a remote subscription manager (a Satellite-5 XML-RPC
// endpoint, a Satellite-6/Candlepin REST endpoint, or any other
// implementation), plus the error taxonomy those calls may raise. Concrete
// implementations live outside this module; this package only describes
// the contract and the recoverable/throttle/fatal distinctions the
// destination worker's retry logic depends on.
package manager

import (
	"context"

	"github.com/cuemby/hyperwatch/pkg/report"
)

// SendOptions carries per-call options that do not belong on the report
// itself — most notably whether the caller wants reports printed instead
// of submitted (oneshot --print mode).
type SendOptions struct {
	PrintOnly bool
}

// Manager is the remote destination contract. HypervisorCheckIn and
// CheckReportState may be called concurrently from distinct destination
// workers, but never concurrently for the same report.
type Manager interface {
	// HypervisorCheckIn submits a host/guest association report. It may
	// return synchronously with r already in a terminal state, or
	// asynchronously (r.State() == StateProcessing) — in which case the
	// caller must poll CheckReportState.
	HypervisorCheckIn(ctx context.Context, r *report.HostGuestAssociationReport, opts SendOptions) error

	// CheckReportState updates r's state in place for an async submission
	// previously started by HypervisorCheckIn.
	CheckReportState(ctx context.Context, r *report.HostGuestAssociationReport) error

	// SendVirtGuests submits a domain-list report (non-hypervisor source).
	SendVirtGuests(ctx context.Context, r *report.DomainListReport, opts SendOptions) error
}

// RHSMConfig is consulted only as a fallback to recover the hostname of an
// unreachable destination when a report does not otherwise carry one
// (spec.md §6).
type RHSMConfig interface {
	Get(section, key string) (string, bool)
}
