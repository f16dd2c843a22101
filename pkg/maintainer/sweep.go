package maintainer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically re-enqueues full recomputes for accounts whose
// cache rows have gone stale, bounding the drift left behind by
// permanently failed jobs.
type Sweeper struct {
	maintainer *Maintainer
	cron       *cron.Cron
	staleAfter time.Duration
}

// NewSweeper schedules a reconciliation sweep. The schedule uses standard
// cron syntax; rows untouched for longer than staleAfter are reconciled.
func NewSweeper(m *Maintainer, schedule string, staleAfter time.Duration) (*Sweeper, error) {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}

	s := &Sweeper{
		maintainer: m,
		cron:       cron.New(),
		staleAfter: staleAfter,
	}

	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			m.logger.WithError(err).Error("Reconciliation sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins running the sweep on its schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep enqueues one full recompute per account owning a stale row.
func (s *Sweeper) Sweep(ctx context.Context) error {
	m := s.maintainer
	if m.metrics != nil {
		m.metrics.SweepRunsTotal.Inc()
	}

	cutoff := time.Now().UTC().Add(-s.staleAfter)
	keys, err := m.cache.Store().StaleKeys(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("stale key scan: %w", err)
	}

	seen := make(map[int64]bool)
	for _, key := range keys {
		if seen[key.AccountID] {
			continue
		}
		seen[key.AccountID] = true
		m.NotifyFullRecompute(key.AccountID)
	}

	if len(seen) > 0 {
		m.logger.WithField("accounts", len(seen)).Info("Reconciliation sweep enqueued recomputes")
	}
	return nil
}
