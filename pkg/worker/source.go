package worker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperwatch/pkg/datastore"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
	"github.com/cuemby/hyperwatch/pkg/virt"
)

// sourceBody adapts a virt.Source to the IntervalWorker contract: gather a
// report from the backend, publish it under config.Name.
type sourceBody struct {
	logger zerolog.Logger
	cfg    *types.Config
	store  *datastore.Datastore
	src    virt.Source
	worker *IntervalWorker
}

// NewSourceWorker builds the interval worker for one source config.
// externalDone is the Executor-wide terminate channel.
func NewSourceWorker(logger zerolog.Logger, cfg *types.Config, store *datastore.Datastore, src virt.Source, externalDone chan struct{}, oneshot bool) *IntervalWorker {
	w := NewIntervalWorker(logger, cfg, externalDone, oneshot)
	w.Bind(&sourceBody{logger: logger, cfg: cfg, store: store, src: src, worker: w})
	return w
}

func (b *sourceBody) Prepare(ctx context.Context) {}

func (b *sourceBody) Cleanup() {}

// GetData calls into the backend: GetHostGuestMapping when the source
// represents a hypervisor, otherwise ListDomains (spec.md §4.4).
func (b *sourceBody) GetData(ctx context.Context) (any, error) {
	if b.src.IsHypervisor() {
		hypervisors, err := b.src.GetHostGuestMapping(ctx)
		if err != nil {
			return nil, err
		}
		return report.NewHostGuestAssociationReport(b.cfg, hypervisors, nil, nil), nil
	}
	guests, err := b.src.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	return report.NewDomainListReport(b.cfg, guests, ""), nil
}

// SendData publishes the gathered report under config.Name. If the worker
// was asked to terminate while the report was being gathered, it exits
// silently rather than publishing stale data.
func (b *sourceBody) SendData(ctx context.Context, data any) {
	if b.worker.IsTerminated() {
		return
	}
	r, ok := data.(report.Report)
	if !ok {
		return
	}
	b.logger.Info().Str("config", b.cfg.Name).Msg("report gathered, placing in datastore")
	b.store.Put(b.cfg.Name, r)
}

// AreConsumersReachable reports whether any destination has recently been
// told about hypervisorID, per spec.md §4.4. A source may use this to
// suppress expensive discovery when nobody is listening.
func AreConsumersReachable(store *datastore.Datastore, hypervisorID string) bool {
	return store.Reachable(hypervisorID)
}
