// Package retention bounds how long candles and trades stay in storage.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ildaroit/algo-trading-server/pkg/storage"
)

const sweepTimeout = 30 * time.Second

// Scheduler deletes records older than the configured horizon, once at
// startup and then every 24 hours at UTC midnight.
type Scheduler struct {
	store  storage.Store
	maxAge time.Duration
	log    *zap.Logger
	stop   chan struct{}
}

func NewScheduler(store storage.Store, maxAge time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		maxAge: maxAge,
		log:    log,
		stop:   make(chan struct{}),
	}
}

// Start schedules sweeps in the background.
func (s *Scheduler) Start() {
	go func() {
		// Run immediately once at startup
		s.sweepAndLog()

		// Wait until next UTC midnight
		now := time.Now().UTC()
		nextMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		select {
		case <-time.After(time.Until(nextMidnight)):
		case <-s.stop:
			return
		}

		// Then run once every 24 hours
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			s.sweepAndLog()
			select {
			case <-ticker.C:
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

// Sweep deletes candles and trades older than the retention horizon.
func (s *Scheduler) Sweep(ctx context.Context) (candles, trades int64, err error) {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	candles, err = s.store.DeleteCandlesBefore(ctx, cutoff)
	if err != nil {
		return candles, 0, fmt.Errorf("delete old candles: %w", err)
	}
	trades, err = s.store.DeleteTradesBefore(ctx, cutoff)
	if err != nil {
		return candles, trades, fmt.Errorf("delete old trades: %w", err)
	}
	return candles, trades, nil
}

func (s *Scheduler) sweepAndLog() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	candles, trades, err := s.Sweep(ctx)
	if err != nil {
		s.log.Warn("retention sweep failed", zap.Error(err))
		return
	}
	s.log.Info("retention sweep completed",
		zap.Int64("candlesDeleted", candles),
		zap.Int64("tradesDeleted", trades))
}
