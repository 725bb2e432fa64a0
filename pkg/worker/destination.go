package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/hyperwatch/pkg/datastore"
	"github.com/cuemby/hyperwatch/pkg/manager"
	"github.com/cuemby/hyperwatch/pkg/metrics"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
)

// destinationBody pulls reports from the datastore for a fixed set of
// source keys and delivers them to a remote manager.Manager (spec.md
// §4.5). It owns all the per-cycle bookkeeping (dedup marks, remaining
// source keys); IntervalWorker only drives its Prepare/GetData/SendData.
type destinationBody struct {
	logger zerolog.Logger
	cfg    *types.Config
	store  *datastore.Datastore
	mgr    manager.Manager
	rhsm   manager.RHSMConfig
	worker *IntervalWorker

	// onFatalError is invoked (continuous mode only) when a manager call
	// returns a FatalError, so the caller can surface it to an Executor.
	onFatalError func(error)

	// limiter paces this worker's own 429 retries to at most one per second
	// (SPEC_FULL.md §4 implementation notes). Each destination worker has
	// its own limiter; it is not shared between workers and adds no jitter.
	// It can only lengthen a wait computed by Handle429, never shorten it.
	limiter *rate.Limiter

	options      manager.SendOptions
	sourceKeys   []string
	isInitialRun bool

	// lastReportForSource maps source key to the hash of the last report
	// successfully (terminally) delivered for it. Never advanced on
	// failure, so a failed delivery is retried with the same content next
	// cycle (spec.md §5 "Dedup is per-source-key...").
	lastReportForSource map[string]string
}

// DestinationDeps bundles the collaborators a destination worker needs
// beyond its own config, to keep the constructor signature manageable.
type DestinationDeps struct {
	Store        *datastore.Datastore
	Manager      manager.Manager
	RHSMConfig   manager.RHSMConfig
	SourceKeys   []string
	Options      manager.SendOptions
	OnFatalError func(error)
}

// NewDestinationWorker builds the interval worker for one destination
// config (Satellite-6/Candlepin and any other batching-capable manager).
func NewDestinationWorker(logger zerolog.Logger, cfg *types.Config, deps DestinationDeps, externalDone chan struct{}, oneshot bool) *IntervalWorker {
	w := NewIntervalWorker(logger, cfg, externalDone, oneshot)
	keys := append([]string(nil), deps.SourceKeys...)
	body := &destinationBody{
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
	w.Bind(body)
	return w
}

// pacedWait runs the 429 back-off wait d through the rate limiter: a
// reservation that would force additional delay extends d, but the limiter
// never shortens a wait the formula already computed.
func (b *destinationBody) pacedWait(d time.Duration) {
	if r := b.limiter.ReserveN(time.Now(), 1); r.OK() {
		if extra := r.Delay(); extra > d {
			d = extra
		}
	} else {
		r.Cancel()
	}
	b.worker.Wait(d)
}

func (b *destinationBody) Prepare(ctx context.Context) {}

func (b *destinationBody) Cleanup() {}

// GetData implements the pull discipline (spec.md §4.5): the first cycle
// polls every source once per second until all have produced a report or
// the interval elapses; subsequent cycles read each remaining key once,
// skipping duplicates.
func (b *destinationBody) GetData(ctx context.Context) (any, error) {
	if b.isInitialRun {
		data := b.getDataInitial()
		b.isInitialRun = false
		return data, nil
	}
	return b.getDataCommon(b.sourceKeys, false, true), nil
}

func (b *destinationBody) getDataCommon(keys []string, ignoreDuplicates, logMissing bool) map[string]report.Report {
	result := map[string]report.Report{}
	for _, key := range keys {
		r, ok := b.store.Get(key, nil).(report.Report)
		if !ok {
			if logMissing {
				b.logger.Debug().Str("source", key).Msg("no report available for source")
			}
			continue
		}
		if !ignoreDuplicates && r.Hash() == b.lastReportForSource[key] {
			b.logger.Debug().Str("config", r.Config().Name).Msg("duplicate report, ignoring")
			metrics.ReportsDedupSkippedTotal.WithLabelValues(key).Inc()
			continue
		}
		result[key] = r
	}
	return result
}

func (b *destinationBody) getDataInitial() map[string]report.Report {
	reports := map[string]report.Report{}
	if !b.worker.IsTerminated() {
		remaining := make(map[string]struct{}, len(b.sourceKeys))
		for _, k := range b.sourceKeys {
			remaining[k] = struct{}{}
		}

		var waited time.Duration
		for len(remaining) > 0 && waited < b.worker.Interval && !b.worker.IsTerminated() {
			keys := make([]string, 0, len(remaining))
			for k := range remaining {
				keys = append(keys, k)
			}
			found := b.getDataCommon(keys, true, false)
			for k, r := range found {
				reports[k] = r
				delete(remaining, k)
			}
			if len(remaining) > 0 {
				time.Sleep(time.Second)
				waited += time.Second
			}
		}
	}
	return reports
}

// SendData implements the dispatch discipline (spec.md §4.5).
func (b *destinationBody) SendData(ctx context.Context, data any) {
	if _, ok := data.(*report.ErrorReport); ok {
		b.logger.Info().Str("config", b.cfg.Name).Msg("error report received from own cycle")
		return
	}

	reports, ok := data.(map[string]report.Report)
	if !ok || len(reports) == 0 {
		b.logger.Debug().Msg("no data to send, waiting for next interval")
		return
	}

	b.updateConsumers(reports)

	var (
		associationReports []*report.HostGuestAssociationReport
		associationKeys    []string
		domainListKeys     []string
		sourcesSent        = map[string]bool{}
		sourcesErred       = map[string]bool{}
		totalHypervisors   int
		totalGuests        int
	)

	for key, r := range reports {
		if b.cfg.Owner == "" {
			b.cfg.Owner = r.Config().Owner
		}
		switch v := r.(type) {
		case *report.DomainListReport:
			domainListKeys = append(domainListKeys, key)
		case *report.HostGuestAssociationReport:
			associationReports = append(associationReports, v)
			associationKeys = append(associationKeys, key)
			hvs := v.Association()
			guestCount := 0
			for _, h := range hvs {
				guestCount += len(h.Guests)
			}
			b.logger.Info().Str("config", r.Config().Name).Int("hypervisors", len(hvs)).Int("guests", guestCount).
				Msg("hosts-to-guests mapping gathered")
			metrics.HypervisorsReported.WithLabelValues(key).Set(float64(len(hvs)))
			metrics.GuestsReported.WithLabelValues(key).Set(float64(guestCount))
			totalHypervisors += len(hvs)
			totalGuests += guestCount
		case *report.ErrorReport:
			b.logger.Debug().Str("source", key).Msg("error report received for source")
			if b.worker.Oneshot {
				sourcesErred[key] = true
			}
		}
	}

	if len(associationReports) > 0 {
		batch := report.NewBatch(b.cfg, associationReports)
		b.checkInBatch(ctx, batch, associationKeys, reports, sourcesSent, sourcesErred, totalHypervisors, totalGuests)
	}

	if !b.options.PrintOnly {
		for _, key := range domainListKeys {
			b.sendDomainList(ctx, key, reports[key].(*report.DomainListReport), sourcesSent, sourcesErred)
		}
	}

	b.finishCycle(sourcesSent, sourcesErred)
}

func (b *destinationBody) checkInBatch(ctx context.Context, batch *report.HostGuestAssociationReport, keys []string, reports map[string]report.Report, sourcesSent, sourcesErred map[string]bool, totalHypervisors, totalGuests int) {
	numFailures := 0
	for !b.worker.IsTerminated() {
		b.logger.Info().Str("owner", b.cfg.Owner).Int("hypervisors", totalHypervisors).Int("guests", totalGuests).
			Msg("sending updated host-to-guest mapping")
		timer := metrics.NewTimer()
		err := b.mgr.HypervisorCheckIn(ctx, batch, b.options)
		timer.ObserveDurationVec(metrics.CheckinDuration, b.cfg.Name)
		if err == nil {
			break
		}

		var throttle *manager.ThrottleError
		if errors.As(err, &throttle) {
			metrics.ThrottleRetriesTotal.WithLabelValues(b.cfg.Name, "hypervisor_checkin").Inc()
			if b.worker.Oneshot {
				b.logger.Debug().Msg("429 received during hypervisor checkin in oneshot mode, not retrying")
				markAll(sourcesErred, keys)
				return
			}
			numFailures++
			wait := Handle429(throttle.RetryAfter, numFailures)
			b.logger.Debug().Dur("retry_after", wait).Msg("429 received during hypervisor checkin")
			b.pacedWait(wait)
			continue
		}

		var fatal *manager.FatalError
		if errors.As(err, &fatal) {
			b.logger.Error().Err(err).Msg("fatal error during hypervisor checkin")
			metrics.FatalErrorsTotal.WithLabelValues(b.cfg.Name).Inc()
			if b.worker.Oneshot {
				markAll(sourcesErred, keys)
			} else if b.onFatalError != nil {
				b.onFatalError(err)
			}
			return
		}

		var recoverable *manager.Error
		if errors.As(err, &recoverable) {
			b.logger.Error().Err(err).Msg("error during hypervisor checkin")
			if b.worker.Oneshot {
				markAll(sourcesErred, keys)
			}
			return
		}

		host := b.destinationHost()
		b.logger.Error().Err(err).Str("host", host).Msg("connection error during hypervisor checkin")
		b.removeUnreachableConsumer(host)
		return
	}
	if b.worker.IsTerminated() {
		return
	}

	b.pollUntilTerminal(ctx, batch, keys, sourcesErred)

	if batch.State() == report.StateFinished {
		for _, key := range keys {
			b.lastReportForSource[key] = reports[key].Hash()
			sourcesSent[key] = true
		}
		metrics.ReportsDispatchedTotal.WithLabelValues(b.cfg.Name, "association").Inc()
	}
}

func (b *destinationBody) pollUntilTerminal(ctx context.Context, batch *report.HostGuestAssociationReport, keys []string, sourcesErred map[string]bool) {
	numFailures := 0
	var modifier time.Duration
	first := true
	pollInterval := time.Duration(b.cfg.EffectivePollingInterval()) * time.Second

	for !batch.State().Terminal() && !b.worker.IsTerminated() {
		wait := pollInterval
		if modifier > 0 {
			wait = modifier
			modifier = 0
		}
		if !first {
			b.worker.Wait(wait)
		}
		first = false

		err := b.mgr.CheckReportState(ctx, batch)
		if err == nil {
			continue
		}

		var throttle *manager.ThrottleError
		if errors.As(err, &throttle) {
			metrics.ThrottleRetriesTotal.WithLabelValues(b.cfg.Name, "check_report_state").Inc()
			if b.worker.Oneshot {
				b.logger.Debug().Msg("429 received while checking job state in oneshot mode, not retrying")
				markAll(sourcesErred, keys)
				return
			}
			numFailures++
			modifier = Handle429(throttle.RetryAfter, numFailures)
			b.logger.Debug().Dur("retry_after", modifier).Msg("429 received while checking job state")
			continue
		}

		b.logger.Error().Err(err).Msg("error during job state check")
		if b.worker.Oneshot {
			markAll(sourcesErred, keys)
		}
		return
	}
}

func (b *destinationBody) sendDomainList(ctx context.Context, key string, r *report.DomainListReport, sourcesSent, sourcesErred map[string]bool) {
	numFailures := 0
	for !b.worker.IsTerminated() {
		err := b.mgr.SendVirtGuests(ctx, r, b.options)
		if err == nil {
			b.lastReportForSource[key] = r.Hash()
			sourcesSent[key] = true
			metrics.ReportsDispatchedTotal.WithLabelValues(b.cfg.Name, "domain_list").Inc()
			return
		}

		var throttle *manager.ThrottleError
		if errors.As(err, &throttle) {
			metrics.ThrottleRetriesTotal.WithLabelValues(b.cfg.Name, "send_virt_guests").Inc()
			if b.worker.Oneshot {
				b.logger.Debug().Msg("429 received while sending virt guests in oneshot mode, not retrying")
				sourcesErred[key] = true
				return
			}
			numFailures++
			wait := Handle429(throttle.RetryAfter, numFailures)
			b.logger.Debug().Dur("retry_after", wait).Msg("429 received while sending virt guests")
			b.pacedWait(wait)
			continue
		}

		b.logger.Error().Err(err).Msg("fatal error during send virt guests")
		if b.worker.Oneshot {
			sourcesErred[key] = true
		}
		return
	}
}

// finishCycle implements oneshot termination (spec.md §4.5): once every
// originally-configured source key has been sent or erred this cycle,
// stop the worker; sent keys are pruned from sourceKeys so a subsequent
// cycle (if any) does not redo the work.
func (b *destinationBody) finishCycle(sourcesSent, sourcesErred map[string]bool) {
	allHandled := true
	for _, key := range b.sourceKeys {
		if !sourcesSent[key] && !sourcesErred[key] {
			allHandled = false
			break
		}
	}

	if allHandled && b.worker.Oneshot {
		b.logger.Debug().Msg("at least one report for each connected source has been sent, terminating")
		b.worker.Stop()
	}

	if b.worker.Oneshot {
		remaining := b.sourceKeys[:0]
		for _, key := range b.sourceKeys {
			if !sourcesSent[key] {
				remaining = append(remaining, key)
			}
		}
		b.sourceKeys = remaining
	}
}

// dropSource removes key from sourceKeys immediately, outside the normal
// end-of-cycle pruning. Used when a source's report type can never be
// delivered to this destination (the Satellite-5 DomainListReport case).
func (b *destinationBody) dropSource(key string) {
	remaining := b.sourceKeys[:0]
	for _, k := range b.sourceKeys {
		if k != key {
			remaining = append(remaining, k)
		}
	}
	b.sourceKeys = remaining
}

func (b *destinationBody) updateConsumers(reports map[string]report.Report) {
	b.store.UpdateConsumers(func(c datastore.Consumers) datastore.Consumers {
		for _, r := range reports {
			assoc, ok := r.(*report.HostGuestAssociationReport)
			if !ok {
				continue
			}
			for _, hv := range assoc.Association() {
				c = datastore.AddConsumer(c, hv.HypervisorID, b.cfg.RHSMHostname)
			}
		}
		return c
	})
}

func (b *destinationBody) removeUnreachableConsumer(host string) {
	if host == "" {
		return
	}
	b.store.UpdateConsumers(func(c datastore.Consumers) datastore.Consumers {
		return datastore.RemoveConsumer(c, host)
	})
}

// destinationHost resolves the hostname used to identify this destination
// in consumers bookkeeping when the socket itself fails to tell us: the
// config's own rhsm_hostname first, then the manager's rhsm_config
// fallback (spec.md §6).
func (b *destinationBody) destinationHost() string {
	if b.cfg.RHSMHostname != "" {
		return b.cfg.RHSMHostname
	}
	if b.rhsm != nil {
		if host, ok := b.rhsm.Get("server", "hostname"); ok {
			return host
		}
	}
	return ""
}

func markAll(set map[string]bool, keys []string) {
	for _, k := range keys {
		set[k] = true
	}
}
