// Package storage defines the persistence contract of the market pipeline
// and the denormalized record shapes it writes.
package storage

import "time"

// CandleRecord is a completed candle denormalized with its market identity
// for storage.
type CandleRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Exchange string    `gorm:"type:text;not null;index:idx_candle_market;index:idx_candle_exchange_symbol_start,unique"`
	Symbol   string    `gorm:"type:text;not null;index:idx_candle_market;index:idx_candle_exchange_symbol_start,unique"`
	Start    time.Time `gorm:"not null;index:idx_candle_exchange_symbol_start,unique"`

	Open  float64 `gorm:"type:numeric;not null"`
	High  float64 `gorm:"type:numeric;not null"`
	Low   float64 `gorm:"type:numeric;not null"`
	Close float64 `gorm:"type:numeric;not null"`

	Volume     float64 `gorm:"type:numeric;not null"`
	Vwp        float64 `gorm:"type:numeric;not null"`
	TradeCount int64   `gorm:"not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (CandleRecord) TableName() string {
	return "candle_record"
}

// TradeRecord is a single venue execution denormalized with its market
// identity for storage.
type TradeRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Exchange string `gorm:"type:text;not null;index:idx_trade_market;index:idx_trade_exchange_symbol_trade_id,unique"`
	Symbol   string `gorm:"type:text;not null;index:idx_trade_market;index:idx_trade_exchange_symbol_trade_id,unique"`
	TradeID  string `gorm:"type:text;not null;index:idx_trade_exchange_symbol_trade_id,unique"`

	Price  float64 `gorm:"type:numeric;not null"`
	Volume float64 `gorm:"type:numeric;not null"`

	TradedAt time.Time `gorm:"not null;index:idx_trade_traded_at"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (TradeRecord) TableName() string {
	return "trade_record"
}
