package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperwatch/pkg/datastore"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
	"github.com/cuemby/hyperwatch/pkg/virt"
)

func TestHandle429Formula(t *testing.T) {
	cases := []struct {
		name       string
		retryAfter int
		failures   int
		want       time.Duration
	}{
		{"honors retry_after above floor", 120, 0, 120 * time.Second},
		{"floor applied on first failure", 10, 0, 60 * time.Second},
		{"scales by failure count below floor", 10, 3, 180 * time.Second},
		{"zero retry_after uses floor", 0, 1, 60 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Handle429(tc.retryAfter, tc.failures))
		})
	}
}

type countingBody struct {
	cycles int
}

func (b *countingBody) Prepare(ctx context.Context) {}
func (b *countingBody) Cleanup()                    {}
func (b *countingBody) GetData(ctx context.Context) (any, error) {
	b.cycles++
	return "data", nil
}
func (b *countingBody) SendData(ctx context.Context, data any) {}

func TestIntervalWorkerOneshotRunsExactlyOnce(t *testing.T) {
	cfg := &types.Config{Name: "c1", Interval: 60}
	w := NewIntervalWorker(zerolog.Nop(), cfg, nil, true)
	body := &countingBody{}
	w.Bind(body)

	w.Run(context.Background())

	assert.Equal(t, 1, body.cycles)
	assert.True(t, w.IsTerminated())
}

func TestIntervalWorkerExternalTerminateStopsLoop(t *testing.T) {
	cfg := &types.Config{Name: "c1", Interval: 60}
	done := make(chan struct{})
	w := NewIntervalWorker(zerolog.Nop(), cfg, done, false)
	body := &countingBody{}
	w.Bind(body)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(done)
	}()

	finished := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not terminate after external signal")
	}
	assert.True(t, w.IsTerminated())
}

func TestSourceWorkerPublishesHostGuestAssociation(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "s1", Interval: 60}
	src := virt.NewFakeSource(true)
	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	src.SetHostGuestMapping(hv)

	w := NewSourceWorker(zerolog.Nop(), cfg, store, src, nil, true)
	w.Run(context.Background())

	got, ok := store.Get("s1", nil).(*report.HostGuestAssociationReport)
	require.True(t, ok)
	assert.Equal(t, hv, got.Hypervisors())
}

func TestSourceWorkerPublishesDomainList(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "s1", Interval: 60}
	src := virt.NewFakeSource(false)
	guests := []types.Guest{types.NewGuest("g1", "fake", types.GuestStateRunning)}
	src.SetDomains(guests)

	w := NewSourceWorker(zerolog.Nop(), cfg, store, src, nil, true)
	w.Run(context.Background())

	got, ok := store.Get("s1", nil).(*report.DomainListReport)
	require.True(t, ok)
	assert.Equal(t, guests, got.Guests())
}

func TestAreConsumersReachableOptimisticDefault(t *testing.T) {
	store := datastore.New()
	assert.True(t, AreConsumersReachable(store, "h1"))
}
