// Package lifecycle runs the background maintenance tasks of the video
// access subsystem.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"coursehall/api_video/internal/store"
	"coursehall/api_video/pkg/logging"
)

// Sweeper periodically transitions timed-out active sessions to expired so
// stale rows stop counting against concurrency limits. Expiry is still
// enforced inline on every request; the sweep only reclaims capacity for
// sessions nobody touches again.
type Sweeper struct {
	sessions store.SessionStore
	interval time.Duration
	logger   logging.Logger
	swept    *prometheus.GaugeVec

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper. The metric vector may be nil.
func NewSweeper(sessions store.SessionStore, interval time.Duration, logger logging.Logger, swept *prometheus.GaugeVec) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		swept:    swept,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. An immediate first sweep
// clears anything that expired while the service was down.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop terminates the loop and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// A sweep failure only delays cleanup until the next tick, so it is logged
// and never escalated.
func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Session sweep failed")
		return
	}
	if count > 0 {
		s.logger.WithField("sessions", count).Info("Swept expired video sessions")
	}
}

// RunOnce performs a single sweep and returns how many sessions it expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	count, err := s.sessions.SweepExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if s.swept != nil {
		s.swept.WithLabelValues("expired").Set(float64(count))
	}
	return count, nil
}
