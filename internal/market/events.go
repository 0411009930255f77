package market

import "time"

// EventType names the lifecycle and data events a market emits.
type EventType string

const (
	// EventMarketStart fires once, on the first successful receipt of data
	// after the market was started.
	EventMarketStart EventType = "market-start"

	// EventMarketUpdate fires on the first data received after a reconnect.
	EventMarketUpdate EventType = "market-update"

	// EventMarketError fires when the reconnect budget is exhausted and the
	// provider gives up. The pipeline keeps running; a supervisor may decide
	// to restart it.
	EventMarketError EventType = "market-error"

	// EventTrade carries a single trade for low-latency consumers.
	EventTrade EventType = "trade"

	// EventTrades carries one batch of trades as delivered by the venue.
	EventTrades EventType = "trades"
)

// Event is a lifecycle or raw-data notification relayed to external
// subscribers. Trade is set for EventTrade, Trades for EventTrades and Err
// for EventMarketError; the remaining fields are always populated.
type Event struct {
	Type     EventType `json:"type"`
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Trade    *Trade    `json:"trade,omitempty"`
	Trades   []Trade   `json:"trades,omitempty"`
	Err      error     `json:"-"`
}

// Status is the connection state of a market data provider.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}
