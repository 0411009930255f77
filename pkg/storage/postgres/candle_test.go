package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ildaroit/algo-trading-server/config"
	"github.com/ildaroit/algo-trading-server/pkg/storage"
	"github.com/ildaroit/algo-trading-server/pkg/storage/postgres"
)

// Integration test against a local Postgres instance.
// go test -v --run TestCandleCRUD  (requires POSTGRES_TEST=1)
func TestCandleCRUD(t *testing.T) {
	if os.Getenv("POSTGRES_TEST") == "" {
		t.Skip("set POSTGRES_TEST=1 to run against a local postgres")
	}

	cfg := config.PostgresConfig{
		Env:      "dev",
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "yourpw",
		DBName:   "trading_server_test",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	client, err := postgres.InitializeAndMigrate(cfg, true)
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Minute)

	record := &storage.CandleRecord{
		Exchange:   "binance",
		Symbol:     "BTC-USDT",
		Start:      start,
		Open:       31400.0,
		High:       31600.0,
		Low:        31300.0,
		Close:      31500.0,
		Volume:     123.45,
		Vwp:        31480.2,
		TradeCount: 42,
	}

	if err := client.SaveCandle(ctx, record); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Duplicate bucket inserts must be skipped, not fail
	if err := client.SaveCandle(ctx, &storage.CandleRecord{
		Exchange: "binance", Symbol: "BTC-USDT", Start: start,
		Open: 1, High: 1, Low: 1, Close: 1,
	}); err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}

	got, err := client.GetCandles(ctx, "binance", "BTC-USDT", start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	if got[0].Open != 31400.0 || got[0].TradeCount != 42 {
		t.Errorf("unexpected candle values: %+v", got[0])
	}

	// Trades follow the same dedup-by-id rule
	trade := &storage.TradeRecord{
		Exchange: "binance",
		Symbol:   "BTC-USDT",
		TradeID:  "987654",
		Price:    31450.5,
		Volume:   0.25,
		TradedAt: start.Add(10 * time.Second),
	}
	if err := client.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("trade insert failed: %v", err)
	}
	if err := client.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("duplicate trade insert must not error: %v", err)
	}

	// Cleanup via the retention path
	deleted, err := client.DeleteCandlesBefore(ctx, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("delete candles failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted candle, got %d", deleted)
	}
	if _, err := client.DeleteTradesBefore(ctx, start.Add(time.Minute)); err != nil {
		t.Fatalf("delete trades failed: %v", err)
	}
}
