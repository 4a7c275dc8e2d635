/*
scheduler.go - Background code integrity checker

PURPOSE:
  Periodically verifies that every prefix counter is at least the highest
  used code under that prefix. A lagging counter means a writer bypassed
  the allocator (manual SQL, a restored backup); Preview still skips the
  used codes, but every preview then walks the collision loop.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Logs violations; with AutoRepair it raises the lagging counters
  - Keeps the last result for GET /api/codes/integrity

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - AutoRepair:    Repair instead of only reporting (default: false)

USAGE:
  scheduler := NewIntegrityScheduler(allocator, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - codes/verify.go: Verify and Repair
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/listing-codes/codes"
)

// IntegrityScheduler runs codes verification on a ticker.
type IntegrityScheduler struct {
	Allocator     *codes.Allocator
	Logger        *zap.Logger
	CheckInterval time.Duration
	AutoRepair    bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun        time.Time
	lastViolations []codes.Violation
	lastErr        error
}

// NewIntegrityScheduler creates a new scheduler.
func NewIntegrityScheduler(allocator *codes.Allocator, logger *zap.Logger) *IntegrityScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntegrityScheduler{
		Allocator:     allocator,
		Logger:        logger,
		CheckInterval: time.Hour,
	}
}

// Start begins the scheduler.
func (s *IntegrityScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("integrity scheduler started",
		zap.Duration("interval", s.CheckInterval),
		zap.Bool("auto_repair", s.AutoRepair))
}

// Stop stops the scheduler and waits for an in-flight check.
func (s *IntegrityScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.Logger.Info("integrity scheduler stopped")
}

func (s *IntegrityScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one check synchronously and records the result.
func (s *IntegrityScheduler) RunNow(ctx context.Context) {
	var (
		violations []codes.Violation
		err        error
	)
	if s.AutoRepair {
		violations, err = s.Allocator.Repair(ctx, "integrity-scheduler")
	} else {
		violations, err = s.Allocator.Verify(ctx)
	}

	switch {
	case err != nil:
		s.Logger.Error("integrity check failed", zap.Error(err))
	case len(violations) > 0:
		for _, v := range violations {
			s.Logger.Warn("counter behind used codes",
				zap.String("prefix", v.Prefix.String()),
				zap.Int64("counter", int64(v.Counter)),
				zap.Int64("max_used", int64(v.MaxUsed)),
				zap.Bool("repaired", s.AutoRepair))
		}
	default:
		s.Logger.Debug("integrity check passed")
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastViolations = violations
	s.lastErr = err
	s.mu.Unlock()
}

// Status returns the last check result.
func (s *IntegrityScheduler) Status() IntegrityDTO {
	s.mu.Lock()
	defer s.mu.Unlock()

	dto := IntegrityDTO{
		Enabled:    s.ticker != nil,
		Violations: toViolationDTOs(s.lastViolations),
	}
	if !s.lastRun.IsZero() {
		dto.LastRun = s.lastRun.Format(time.RFC3339)
		if dto.Enabled {
			dto.NextRun = s.lastRun.Add(s.CheckInterval).Format(time.RFC3339)
		}
	}
	if s.lastErr != nil {
		dto.LastError = s.lastErr.Error()
	}
	return dto
}
