package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ildaroit/algo-trading-server/config"
)

func newTestBinance() *Binance {
	return NewBinance(config.BinanceConfig{}, nil)
}

func TestParseTrade(t *testing.T) {
	b := newTestBinance()

	msg := []byte(`{
		"stream": "btcusdt@trade",
		"data": {"e":"trade","E":1700000000100,"s":"BTCUSDT","t":987654321,
			"p":"35001.25","q":"0.0042","T":1700000000050,"m":false}
	}`)

	trade, ok := b.parseTrade(msg)
	require.True(t, ok)
	assert.Equal(t, "987654321", trade.ID)
	assert.Equal(t, "35001.25", trade.Price.String())
	assert.Equal(t, "0.0042", trade.Amount.String())
	assert.Equal(t, time.UnixMilli(1700000000050).UTC(), trade.Time)
}

func TestParseTradeIgnoresNonTradeStreams(t *testing.T) {
	b := newTestBinance()

	// subscription ack / other stream types must be skipped silently
	_, ok := b.parseTrade([]byte(`{"stream":"btcusdt@depth","data":{"u":1}}`))
	assert.False(t, ok)
}

func TestParseTradeDropsMalformedPayloads(t *testing.T) {
	b := newTestBinance()

	cases := map[string]string{
		"not json":          `{{{`,
		"missing data":      `{"stream":"btcusdt@trade"}`,
		"missing price":     `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","t":1,"q":"1","T":1700000000000}}`,
		"non-numeric price": `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","t":1,"p":"abc","q":"1","T":1700000000000}}`,
		"zero trade id":     `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","t":0,"p":"100","q":"1","T":1700000000000}}`,
		"zero timestamp":    `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","t":1,"p":"100","q":"1","T":0}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := b.parseTrade([]byte(raw))
			assert.False(t, ok)
		})
	}
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "btcusdt", streamName("BTC-USDT"))
	assert.Equal(t, "ethusdt", streamName("ethusdt"))
	assert.Equal(t, "BTCUSDT", restSymbol("btc-usdt"))
}
