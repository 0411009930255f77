package postgres

import (
	"context"
	"time"

	"github.com/ildaroit/algo-trading-server/pkg/storage"

	"gorm.io/gorm/clause"
)

// SaveCandle inserts a completed candle. Re-delivered buckets are skipped via
// the unique (exchange, symbol, start) index, keeping candle emission
// idempotent per pipeline instance.
func (p *PostgresClient) SaveCandle(ctx context.Context, record *storage.CandleRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "exchange"},
			{Name: "symbol"},
			{Name: "start"},
		},
		DoNothing: true,
	}).Create(record).Error
}

// SaveTrade inserts a raw trade, skipping duplicates by venue trade id.
func (p *PostgresClient) SaveTrade(ctx context.Context, record *storage.TradeRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "exchange"},
			{Name: "symbol"},
			{Name: "trade_id"},
		},
		DoNothing: true,
	}).Create(record).Error
}

// GetCandles returns the candles of one market within [from, to), oldest first.
func (p *PostgresClient) GetCandles(ctx context.Context, exchange, symbol string,
	from, to time.Time) ([]storage.CandleRecord, error) {
	var candles []storage.CandleRecord
	err := p.DB.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND start >= ? AND start < ?", exchange, symbol, from, to).
		Order("start ASC").
		Find(&candles).Error

	if err != nil {
		return nil, err
	}
	return candles, nil
}

func (p *PostgresClient) DeleteCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("start < ?", cutoff).
		Delete(&storage.CandleRecord{})
	return tx.RowsAffected, tx.Error
}

func (p *PostgresClient) DeleteTradesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("traded_at < ?", cutoff).
		Delete(&storage.TradeRecord{})
	return tx.RowsAffected, tx.Error
}
