// Package tally runs the background vote tally processor: it drains the
// processing flags the hub sets on the write path, recomputes cached vote
// aggregates, and pushes refreshed group state back through the hub's
// broadcast entry point. Decouples write latency from tally cost.
package tally

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/wanderers-live/merchant-tracker/internal/repository"
	"github.com/wanderers-live/merchant-tracker/internal/service"
)

type workerMetrics struct {
	runs          prometheus.Counter
	groupsRefresh prometheus.Counter
	sweeps        prometheus.Counter
}

func newWorkerMetrics(reg prometheus.Registerer) *workerMetrics {
	if reg == nil {
		return nil
	}
	return &workerMetrics{
		runs: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracker_tally_runs_total",
			Help: "Completed tally drain passes",
		}),
		groupsRefresh: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracker_tally_groups_refreshed_total",
			Help: "Groups rebroadcast after a tally pass",
		}),
		sweeps: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracker_autoban_sweeps_total",
			Help: "Completed autoban sweep passes",
		}),
	}
}

// Worker periodically drains flagged entities and triggers rebroadcasts.
type Worker struct {
	repo          repository.TallyRepository
	svc           service.TrackerService
	interval      time.Duration
	sweepInterval time.Duration
	log           *zap.Logger
	metrics       *workerMetrics

	stopCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
	wg      sync.WaitGroup
}

// New constructs a tally worker. sweepInterval <= 0 disables the periodic
// autoban sweep.
func New(repo repository.TallyRepository, svc service.TrackerService, interval, sweepInterval time.Duration, log *zap.Logger, reg prometheus.Registerer) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		repo:          repo,
		svc:           svc,
		interval:      interval,
		sweepInterval: sweepInterval,
		log:           log,
		metrics:       newWorkerMetrics(reg),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the drain loop and, when enabled, the sweep loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.drainLoop(ctx)
	if w.sweepInterval > 0 {
		w.wg.Add(1)
		go w.sweepLoop(ctx)
	}
}

// Stop shuts the loops down and waits for them to finish.
func (w *Worker) Stop() {
	w.stopMu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.stopMu.Unlock()
	w.wg.Wait()
}

func (w *Worker) drainLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Warn("tally pass failed", zap.Error(err))
			}
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.svc.RunAutobanSweep(ctx); err != nil {
				w.log.Warn("autoban sweep failed", zap.Error(err))
			} else if w.metrics != nil {
				w.metrics.sweeps.Inc()
			}
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one drain pass: recompute flagged vote aggregates,
// clear submission processing flags, and rebroadcast every touched group.
func (w *Worker) RunOnce(ctx context.Context) error {
	voteGroups, err := w.repo.RecomputeFlaggedVotes(ctx)
	if err != nil {
		return err
	}
	reportGroups, err := w.repo.ClearFlaggedGroups(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(voteGroups)+len(reportGroups))
	for _, id := range append(voteGroups, reportGroups...) {
		key := id.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if err := w.svc.BroadcastGroupByID(ctx, id); err != nil {
			w.log.Warn("rebroadcast failed", zap.String("group_id", key), zap.Error(err))
			continue
		}
		if w.metrics != nil {
			w.metrics.groupsRefresh.Inc()
		}
	}
	if w.metrics != nil {
		w.metrics.runs.Inc()
	}
	return nil
}
