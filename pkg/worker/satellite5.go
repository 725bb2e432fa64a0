package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/hyperwatch/pkg/manager"
	"github.com/cuemby/hyperwatch/pkg/metrics"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
)

// satellite5Body is the Satellite-5 destination variant (spec.md §4.5):
// DomainListReports are unsupported and dropped permanently, each
// HostGuestAssociationReport is submitted on its own rather than batched,
// and any ErrorReport at the top level (this worker's own cycle failing)
// triggers immediate shutdown rather than being logged and ignored.
type satellite5Body struct {
	*destinationBody
}

// NewSatellite5DestinationWorker builds the interval worker for a
// Satellite-5 destination config.
func NewSatellite5DestinationWorker(logger zerolog.Logger, cfg *types.Config, deps DestinationDeps, externalDone chan struct{}, oneshot bool) *IntervalWorker {
	w := NewIntervalWorker(logger, cfg, externalDone, oneshot)
	keys := append([]string(nil), deps.SourceKeys...)
	base := &destinationBody{
		logger:              logger,
		cfg:                 cfg,
		store:               deps.Store,
		mgr:                 deps.Manager,
		rhsm:                deps.RHSMConfig,
		worker:              w,
		onFatalError:        deps.OnFatalError,
		options:             deps.Options,
		sourceKeys:          keys,
		isInitialRun:        true,
		lastReportForSource: make(map[string]string),
		limiter:             rate.NewLimiter(rate.Every(time.Second), 1),
	}
	w.Bind(&satellite5Body{destinationBody: base})
	return w
}

func (b *satellite5Body) SendData(ctx context.Context, data any) {
	if _, ok := data.(*report.ErrorReport); ok {
		b.logger.Info().Str("config", b.cfg.Name).Msg("error report received, shutting down")
		b.worker.Stop()
		return
	}

	reports, ok := data.(map[string]report.Report)
	if !ok || len(reports) == 0 {
		b.logger.Debug().Msg("no data to send, waiting for next interval")
		return
	}

	sourcesSent := map[string]bool{}
	sourcesErred := map[string]bool{}

	for key, r := range reports {
		switch v := r.(type) {
		case *report.DomainListReport:
			b.logger.Warn().Str("source", key).
				Msg("satellite 5 does not support local hypervisor data, use rhn-virtualization-host instead; dropping source")
			sourcesErred[key] = true
			b.dropSource(key)
		case *report.HostGuestAssociationReport:
			b.checkInSingle(ctx, key, v, sourcesSent, sourcesErred)
		case *report.ErrorReport:
			b.logger.Debug().Str("source", key).Msg("error report received for source")
			if b.worker.Oneshot {
				sourcesErred[key] = true
			}
		}
	}

	b.finishCycle(sourcesSent, sourcesErred)
}

// checkInSingle submits one HostGuestAssociationReport on its own, since
// Satellite 5 cannot accept a batched checkin. Unlike the batching
// destination, it never polls check_report_state: a synchronous result is
// assumed.
func (b *satellite5Body) checkInSingle(ctx context.Context, key string, r *report.HostGuestAssociationReport, sourcesSent, sourcesErred map[string]bool) {
	numFailures := 0
	for !b.worker.IsTerminated() {
		timer := metrics.NewTimer()
		err := b.mgr.HypervisorCheckIn(ctx, r, b.options)
		timer.ObserveDurationVec(metrics.CheckinDuration, b.cfg.Name)
		if err == nil {
			b.lastReportForSource[key] = r.Hash()
			sourcesSent[key] = true
			metrics.ReportsDispatchedTotal.WithLabelValues(b.cfg.Name, "association").Inc()
			return
		}

		var throttle *manager.ThrottleError
		if errors.As(err, &throttle) {
			metrics.ThrottleRetriesTotal.WithLabelValues(b.cfg.Name, "hypervisor_checkin").Inc()
			if b.worker.Oneshot {
				b.logger.Debug().Msg("429 received during hypervisor checkin in oneshot mode, not retrying")
				sourcesErred[key] = true
				return
			}
			numFailures++
			wait := Handle429(throttle.RetryAfter, numFailures)
			b.logger.Debug().Dur("retry_after", wait).Msg("429 received during hypervisor checkin")
			b.pacedWait(wait)
			continue
		}

		b.logger.Error().Err(err).Msg("fatal error during hypervisor checkin")
		sourcesErred[key] = true
		return
	}
}
