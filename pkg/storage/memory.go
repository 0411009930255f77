package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local runs without a
// database.
type MemoryStore struct {
	mu      sync.Mutex
	candles []CandleRecord
	trades  []TradeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make([]CandleRecord, 0),
		trades:  make([]TradeRecord, 0),
	}
}

func (m *MemoryStore) SaveCandle(_ context.Context, record *CandleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.candles {
		if c.Exchange == record.Exchange && c.Symbol == record.Symbol && c.Start.Equal(record.Start) {
			return nil // duplicate bucket, same as the DB unique index
		}
	}
	m.candles = append(m.candles, *record)
	return nil
}

func (m *MemoryStore) SaveTrade(_ context.Context, record *TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.Exchange == record.Exchange && t.Symbol == record.Symbol && t.TradeID == record.TradeID {
			return nil
		}
	}
	m.trades = append(m.trades, *record)
	return nil
}

func (m *MemoryStore) DeleteCandlesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.candles[:0]
	var deleted int64
	for _, c := range m.candles {
		if c.Start.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	m.candles = kept
	return deleted, nil
}

func (m *MemoryStore) DeleteTradesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.trades[:0]
	var deleted int64
	for _, t := range m.trades {
		if t.TradedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	m.trades = kept
	return deleted, nil
}

// Candles returns a copy of the stored candle records.
func (m *MemoryStore) Candles() []CandleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CandleRecord, len(m.candles))
	copy(out, m.candles)
	return out
}

// Trades returns a copy of the stored trade records.
func (m *MemoryStore) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}
