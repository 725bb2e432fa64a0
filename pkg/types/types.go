// Package types defines the core data structures shared across hyperwatch:
// guests, hypervisors, source configuration and destination identity. These
// types are used by pkg/report, pkg/worker, pkg/executor and pkg/virt for
// state management and dispatch.
package types

// MinimumSendInterval is the floor applied to any configured interval, in
// seconds. No source or destination worker is allowed to poll more often
// than this.
const MinimumSendInterval = 60

// DefaultInterval is used when a Config does not specify one.
const DefaultInterval = 3600

// ClampInterval enforces MinimumSendInterval on a requested interval.
func ClampInterval(seconds int) int {
	if seconds < MinimumSendInterval {
		return MinimumSendInterval
	}
	return seconds
}

// GuestState is the power state of a single guest, as reported by a
// virtualization backend.
type GuestState int

const (
	GuestStateUnknown GuestState = iota
	GuestStateRunning
	GuestStateBlocked
	GuestStatePaused
	GuestStateShuttingDown
	GuestStateShutOff
	GuestStateCrashed
	GuestStatePMSuspended
)

// Active reports whether a guest in this state counts toward an active
// subscription (running or paused).
func (s GuestState) Active() bool {
	return s == GuestStateRunning || s == GuestStatePaused
}

// Guest is one virtual machine running on some hypervisor (or, for
// non-hypervisor sources, running locally). Immutable after construction.
type Guest struct {
	UUID           string
	HypervisorType string
	State          GuestState
}

// NewGuest constructs a Guest. hypervisorType is the backend tag
// (config.type) of the source that discovered it.
func NewGuest(uuid, hypervisorType string, state GuestState) Guest {
	return Guest{UUID: uuid, HypervisorType: hypervisorType, State: state}
}

// Hypervisor is a host running zero or more Guests. Immutable after
// construction; its canonical form and hash are computed from
// HypervisorID, Guests, Name and Facts only — never from object identity
// or timestamps.
type Hypervisor struct {
	HypervisorID string
	Name         string
	Facts        map[string]string
	Guests       []Guest
}

// DestinationKind identifies which concrete destination-worker class an
// Executor should build for a given destination configuration.
type DestinationKind string

const (
	DestinationSatellite5 DestinationKind = "satellite5"
	DestinationSatellite6 DestinationKind = "satellite6"
	DestinationDefault    DestinationKind = "default"
)

// DestinationInfo identifies one configured remote destination.
type DestinationInfo struct {
	Kind         DestinationKind
	RHSMHostname string
}

// Config is the immutable (for the life of a worker) configuration of one
// source. Owner may be filled in exactly once, by the first destination
// worker that observes a report referencing it.
type Config struct {
	Name            string   `yaml:"name"`
	Type            string   `yaml:"type"`
	Interval        int      `yaml:"interval"`
	Owner           string   `yaml:"owner,omitempty"`
	ExcludeHosts    []string `yaml:"exclude_hosts,omitempty"`
	FilterHosts     []string `yaml:"filter_hosts,omitempty"`
	RHSMHostname    string   `yaml:"rhsm_hostname,omitempty"`
	PollingInterval int      `yaml:"polling_interval,omitempty"`
}

// EffectiveInterval returns the configured interval, clamped to
// MinimumSendInterval, falling back to DefaultInterval when unset.
func (c *Config) EffectiveInterval() int {
	interval := c.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	return ClampInterval(interval)
}

// EffectivePollingInterval returns PollingInterval when set, otherwise the
// worker's own interval (spec.md §4.5: "default = interval").
func (c *Config) EffectivePollingInterval() int {
	if c.PollingInterval > 0 {
		return c.PollingInterval
	}
	return c.EffectiveInterval()
}
