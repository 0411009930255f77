package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ildaroit/algo-trading-server/pkg/storage"
)

func TestSweepDeletesOnlyExpiredRecords(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	require.NoError(t, store.SaveCandle(ctx, &storage.CandleRecord{
		Exchange: "binance", Symbol: "BTC-USDT", Start: old,
	}))
	require.NoError(t, store.SaveCandle(ctx, &storage.CandleRecord{
		Exchange: "binance", Symbol: "BTC-USDT", Start: now,
	}))
	require.NoError(t, store.SaveTrade(ctx, &storage.TradeRecord{
		Exchange: "binance", Symbol: "BTC-USDT", TradeID: "1", TradedAt: old,
	}))
	require.NoError(t, store.SaveTrade(ctx, &storage.TradeRecord{
		Exchange: "binance", Symbol: "BTC-USDT", TradeID: "2", TradedAt: now,
	}))

	s := NewScheduler(store, 24*time.Hour, nil)
	candles, trades, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), candles)
	assert.Equal(t, int64(1), trades)

	require.Len(t, store.Candles(), 1)
	assert.True(t, store.Candles()[0].Start.Equal(now))
	require.Len(t, store.Trades(), 1)
	assert.Equal(t, "2", store.Trades()[0].TradeID)
}
