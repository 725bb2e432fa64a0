package report

import "github.com/cuemby/hyperwatch/pkg/types"

// NewBatch merges the (already filtered) hypervisor associations of
// several HostGuestAssociationReports into one synthetic report suitable
// for a single hypervisorCheckIn call (spec.md §4.5). The batch carries no
// exclude/filter patterns of its own — its members were already filtered
// when their Association() was read.
func NewBatch(cfg *types.Config, reports []*HostGuestAssociationReport) *HostGuestAssociationReport {
	var all []types.Hypervisor
	for _, r := range reports {
		all = append(all, r.Association()...)
	}
	return &HostGuestAssociationReport{
		base:        base{config: cfg, state: StateCreated},
		hypervisors: all,
	}
}
