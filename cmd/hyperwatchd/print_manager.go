package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/hyperwatch/pkg/manager"
	"github.com/cuemby/hyperwatch/pkg/report"
)

// printManager is the one manager.Manager implementation this module ships:
// it writes every report to an io.Writer as indented JSON and marks it
// terminally finished, rather than submitting it anywhere. It backs both
// --print (oneshot inspection) and the "print" destination manager type,
// since no concrete remote protocol adapter is part of this module
// (spec.md §1 Non-goals).
type printManager struct {
	out io.Writer
}

func newPrintManager(out io.Writer) *printManager {
	return &printManager{out: out}
}

func (m *printManager) HypervisorCheckIn(ctx context.Context, r *report.HostGuestAssociationReport, opts manager.SendOptions) error {
	if err := m.write("association", r.SerializedAssociation()); err != nil {
		return &manager.Error{Err: err}
	}
	r.SetState(report.StateFinished)
	return nil
}

func (m *printManager) CheckReportState(ctx context.Context, r *report.HostGuestAssociationReport) error {
	return nil
}

func (m *printManager) SendVirtGuests(ctx context.Context, r *report.DomainListReport, opts manager.SendOptions) error {
	if err := m.write("domain_list", r.Guests()); err != nil {
		return &manager.Error{Err: err}
	}
	r.SetState(report.StateFinished)
	return nil
}

func (m *printManager) write(kind string, payload any) error {
	enc := json.NewEncoder(m.out)
	enc.SetIndent("", "  ")
	if _, err := fmt.Fprintf(m.out, "# %s\n", kind); err != nil {
		return err
	}
	return enc.Encode(payload)
}
