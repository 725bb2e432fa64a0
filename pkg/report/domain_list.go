package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/cuemby/hyperwatch/pkg/types"
)

// DomainListReport is published by a non-hypervisor source reporting its
// own guest list.
type DomainListReport struct {
	base
	guests       []types.Guest
	hypervisorID string
}

// NewDomainListReport constructs a DomainListReport in StateCreated.
// hypervisorID is optional (empty string when the source has none).
func NewDomainListReport(cfg *types.Config, guests []types.Guest, hypervisorID string) *DomainListReport {
	return &DomainListReport{
		base:         base{config: cfg, state: StateCreated},
		guests:       guests,
		hypervisorID: hypervisorID,
	}
}

func (r *DomainListReport) Guests() []types.Guest { return r.guests }
func (r *DomainListReport) HypervisorID() string  { return r.hypervisorID }

// Hash is the SHA-256 of the sorted, serialized guest list concatenated
// with the hypervisor ID string.
func (r *DomainListReport) Hash() string {
	type canonicalGuest struct {
		GuestID    string            `json:"guestId"`
		State      types.GuestState  `json:"state"`
		Attributes map[string]string `json:"attributes"`
	}
	canon := make([]canonicalGuest, len(r.guests))
	for i, g := range r.guests {
		active := "0"
		if g.State.Active() {
			active = "1"
		}
		canon[i] = canonicalGuest{
			GuestID: g.UUID,
			State:   g.State,
			Attributes: map[string]string{
				"virtWhoType": g.HypervisorType,
				"active":      active,
			},
		}
	}
	sort.Slice(canon, func(i, j int) bool { return canon[i].GuestID < canon[j].GuestID })

	b, err := json.Marshal(canon)
	if err != nil {
		panic("report: unmarshalable guest list: " + err.Error())
	}
	h := sha256.New()
	h.Write(b)
	h.Write([]byte(r.hypervisorID))
	return hex.EncodeToString(h.Sum(nil))
}
