// Package scheduler runs reconciliation and the archive sweep on fixed periods.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/notify"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/reconcile"
)

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Result, error)
}

// Dispatcher notifies the recipients of a new alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *model.Alert) (*notify.Report, error)
}

// Archiver archives resolved alerts older than a cutoff.
type Archiver interface {
	AutoArchiveOld(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config controls the two loops. A zero Interval disables reconciliation,
// a zero SweepInterval or ArchiveAfter disables the sweep.
type Config struct {
	Interval       time.Duration
	InitialDelay   time.Duration
	NotifyOnDetect bool
	ArchiveAfter   time.Duration
	SweepInterval  time.Duration
}

// Scheduler owns the background loops.
type Scheduler struct {
	reconciler Reconciler
	dispatcher Dispatcher
	archiver   Archiver
	cfg        Config
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. dispatcher and archiver may be nil.
func New(r Reconciler, d Dispatcher, a Archiver, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reconciler: r,
		dispatcher: d,
		archiver:   a,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the loops. They stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.cfg.Interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reconcileLoop(ctx)
		}()
	}
	if s.archiver != nil && s.cfg.SweepInterval > 0 && s.cfg.ArchiveAfter > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweepLoop(ctx)
		}()
	}
}

// Stop halts the loops and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// RunOnce reconciles and, when configured, notifies the recipients of the
// alerts the pass created.
func (s *Scheduler) RunOnce(ctx context.Context) (reconcile.Result, error) {
	res, err := s.reconciler.Run(ctx)
	if err != nil {
		return res, err
	}
	if s.cfg.NotifyOnDetect && s.dispatcher != nil {
		s.notify(ctx, res.New)
	}
	return res, nil
}

func (s *Scheduler) notify(ctx context.Context, alerts []*model.Alert) {
	for _, a := range alerts {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.dispatcher.Dispatch(ctx, a); err != nil {
			s.logger.Error("dispatch new alert", "alert_id", a.ID, "error", err)
		}
	}
}

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	if s.cfg.InitialDelay > 0 {
		timer := time.NewTimer(s.cfg.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled reconciliation failed", "error", err)
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.archiver.AutoArchiveOld(ctx, s.cfg.ArchiveAfter)
			if err != nil {
				s.logger.Error("archive sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("archive sweep", "archived", n)
			}
		}
	}
}
