package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig holds configuration for the maturity sweeper.
type SweeperConfig struct {
	// Interval is how often the sweep runs.
	// Default: 1 minute
	Interval time.Duration

	// Timeout bounds a single sweep.
	// Default: 2 minutes
	Timeout time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: time.Minute,
		Timeout:  2 * time.Minute,
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	WaiversResolved int `json:"waivers_resolved"`
	WaiversSkipped  int `json:"waivers_skipped"`
	LoansDefaulted  int `json:"loans_defaulted"`
}

// MaturitySweeper periodically resolves expired waiver listings and marks
// overdue loans defaulted, so neither waits for a client to ask.
type MaturitySweeper struct {
	auction *AuctionService
	loans   *LoanService
	clock   Clock
	config  SweeperConfig
	logger  *slog.Logger

	ticker    *time.Ticker
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	stopped   bool
	mu        sync.Mutex
}

// NewMaturitySweeper creates a new sweeper.
func NewMaturitySweeper(auction *AuctionService, loans *LoanService, clock Clock, config SweeperConfig, logger *slog.Logger) *MaturitySweeper {
	if config.Interval == 0 {
		config.Interval = time.Minute
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MaturitySweeper{
		auction: auction,
		loans:   loans,
		clock:   clock,
		config:  config,
		logger:  logger.With("component", "sweeper"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *MaturitySweeper) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("sweeper started", "interval", s.config.Interval)

	go s.run()
}

func (s *MaturitySweeper) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		}
	}
}

func (s *MaturitySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	res, err := s.RunNow(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if res.WaiversResolved+res.WaiversSkipped+res.LoansDefaulted > 0 {
		s.logger.Info("sweep done",
			"waivers_resolved", res.WaiversResolved,
			"waivers_skipped", res.WaiversSkipped,
			"loans_defaulted", res.LoansDefaulted,
		)
	}
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (s *MaturitySweeper) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.stopped = true
		s.mu.Unlock()

		if running {
			<-s.doneCh
		}
	})
}

// RunNow performs one sweep at the clock's current time. A listing that
// cannot settle is counted as skipped and retried on the next sweep until
// its owner cancels it.
func (s *MaturitySweeper) RunNow(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now()

	listings, err := s.auction.ExpiredListings(ctx, now)
	if err != nil {
		return res, err
	}
	for _, id := range listings {
		if _, err := s.auction.ResolveWaiver(ctx, id, now); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				continue
			}
			if KindOf(err) == "" {
				return res, err
			}
			s.logger.Warn("waiver not resolved", "listing_id", id, "error", err)
			res.WaiversSkipped++
			continue
		}
		res.WaiversResolved++
	}

	loans, err := s.loans.PastDueLoans(ctx, now)
	if err != nil {
		return res, err
	}
	for _, id := range loans {
		loan, err := s.loans.CheckDefault(ctx, id, now)
		if err != nil {
			if KindOf(err) == "" {
				return res, err
			}
			s.logger.Warn("default check failed", "loan_id", id, "error", err)
			continue
		}
		if loan.IsDefaulted {
			res.LoansDefaulted++
		}
	}
	return res, nil
}
