// Package worker implements the interval-driven worker skeleton shared by
// source and destination workers (spec.md §4.3-§4.5), plus the
// destination dispatch/retry logic that drives a manager.Manager. Each
// worker is one goroutine; workers never call each other directly, only
// through the shared datastore.Datastore and their terminate channels.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperwatch/pkg/metrics"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
)

// MinimumSendInterval is the floor used by the 429 back-off formula.
const MinimumSendInterval = types.MinimumSendInterval

// Body is implemented by each concrete worker kind. IntervalWorker drives
// it through prepare/get/send/cleanup once per cycle.
type Body interface {
	// Prepare runs once before the first cycle (login, warm caches, ...).
	Prepare(ctx context.Context)
	// GetData gathers this cycle's payload. A non-nil error is logged and
	// converted into an ErrorReport handed to SendData.
	GetData(ctx context.Context) (any, error)
	// SendData delivers data produced this cycle, or a *report.ErrorReport
	// when GetData failed or the cycle panicked.
	SendData(ctx context.Context, data any)
	// Cleanup runs once after the worker has been asked to terminate.
	Cleanup()
}

// IntervalWorker is the skeleton shared by every worker kind: prepare
// once, then loop gather/send/wait until terminated.
type IntervalWorker struct {
	Logger   zerolog.Logger
	Config   *types.Config
	Interval time.Duration
	Oneshot  bool

	body Body

	internalDone chan struct{}
	internalOnce sync.Once
	externalDone chan struct{}
}

// NewIntervalWorker builds the skeleton. externalDone is the Executor-wide
// terminate channel shared by every worker it supervises; it is closed
// exactly once, by the Executor, to signal every worker at the same time.
// Bind must be called with the concrete Body before Run.
func NewIntervalWorker(logger zerolog.Logger, cfg *types.Config, externalDone chan struct{}, oneshot bool) *IntervalWorker {
	return &IntervalWorker{
		Logger:       logger,
		Config:       cfg,
		Interval:     time.Duration(cfg.EffectiveInterval()) * time.Second,
		Oneshot:      oneshot,
		internalDone: make(chan struct{}),
		externalDone: externalDone,
	}
}

// Bind attaches the worker's body. Source/destination constructors call
// this after constructing the worker so the body can hold a reference back
// to it (for IsTerminated/Wait/Stop during dispatch).
func (w *IntervalWorker) Bind(body Body) { w.body = body }

// Stop sets the internal terminate signal. Safe to call more than once
// and from any goroutine; idempotent.
func (w *IntervalWorker) Stop() {
	w.internalOnce.Do(func() { close(w.internalDone) })
}

// IsTerminated reports whether either the internal or the external
// terminate signal has fired.
func (w *IntervalWorker) IsTerminated() bool {
	select {
	case <-w.internalDone:
		return true
	default:
	}
	if w.externalDone == nil {
		return false
	}
	select {
	case <-w.externalDone:
		return true
	default:
		return false
	}
}

// Wait sleeps in 1-second ticks, checking IsTerminated at each tick, for
// up to d. It returns early once terminated.
func (w *IntervalWorker) Wait(d time.Duration) {
	ticks := int(d / time.Second)
	for i := 0; i < ticks; i++ {
		if w.IsTerminated() {
			return
		}
		time.Sleep(time.Second)
	}
}

// Handle429 implements the shared back-off formula (spec.md §4.3): honor
// retryAfter when it is at least MinimumSendInterval, otherwise scale
// MinimumSendInterval by the failure count.
func Handle429(retryAfter, numberOfFailures int) time.Duration {
	if retryAfter >= MinimumSendInterval {
		return time.Duration(retryAfter) * time.Second
	}
	wait := MinimumSendInterval
	if numberOfFailures > 0 {
		wait = MinimumSendInterval * numberOfFailures
	}
	return time.Duration(wait) * time.Second
}

// Run executes the prepare/loop/cleanup skeleton. It blocks until the
// worker terminates (externally, via Stop, or after one cycle in oneshot
// mode).
func (w *IntervalWorker) Run(ctx context.Context) {
	w.Logger.Debug().Str("config", w.Config.Name).Msg("worker started")
	w.body.Prepare(ctx)

	for !w.IsTerminated() {
		start := time.Now()
		erred := w.runCycle(ctx)

		if w.IsTerminated() {
			break
		}
		if w.Oneshot {
			w.Logger.Debug().Str("config", w.Config.Name).Msg("worker stopped after running once")
			w.Stop()
			break
		}

		if erred {
			// Unexpected or recoverable errors wait a full interval, not
			// an elapsed-adjusted one (spec.md §4.3).
			w.Wait(w.Interval)
			continue
		}

		wait := w.Interval - time.Since(start)
		if wait < 0 {
			w.Logger.Debug().Str("config", w.Config.Name).Msg("cycle exceeded interval, running again immediately")
			continue
		}
		w.Wait(wait)
	}

	w.Logger.Debug().Str("config", w.Config.Name).Msg("worker terminated")
	w.body.Cleanup()
}

// runCycle executes one GetData/SendData pair, converting a panic or a
// GetData error into a logged ErrorReport. It reports whether the cycle
// erred.
func (w *IntervalWorker) runCycle(ctx context.Context) (erred bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SourceCycleDuration, w.Config.Name)

	defer func() {
		if r := recover(); r != nil {
			w.Logger.Error().Interface("panic", r).Str("config", w.Config.Name).Msg("worker recovered from panic")
			metrics.SourceErrorsTotal.WithLabelValues(w.Config.Name).Inc()
			w.body.SendData(ctx, report.NewErrorReport(w.Config))
			erred = true
		}
	}()

	data, err := w.body.GetData(ctx)
	if err != nil {
		if !w.IsTerminated() {
			w.Logger.Error().Err(err).Str("config", w.Config.Name).Msg("worker cycle failed")
			metrics.SourceErrorsTotal.WithLabelValues(w.Config.Name).Inc()
			w.body.SendData(ctx, report.NewErrorReport(w.Config))
		}
		return true
	}
	w.body.SendData(ctx, data)
	return false
}
