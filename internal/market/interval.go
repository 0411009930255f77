package market

import (
	"fmt"
	"time"
)

// candleIntervals maps the interval labels accepted in configuration to
// their bucket durations. Labels follow the usual exchange convention.
var candleIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseInterval converts an interval label such as "1m" or "4h" into its
// bucket duration.
func ParseInterval(s string) (time.Duration, error) {
	d, ok := candleIntervals[s]
	if !ok {
		return 0, fmt.Errorf("invalid candle interval: %q", s)
	}
	return d, nil
}
