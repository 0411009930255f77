package market

import "sync"

// CandleCache keeps a bounded window of the most recently completed candles
// of one pipeline, so API readers and the operator log can inspect a market
// without touching storage.
type CandleCache struct {
	mu       sync.Mutex
	capacity int
	candles  []Candle
	total    int64
}

func NewCandleCache(capacity int) *CandleCache {
	if capacity <= 0 {
		capacity = 500
	}
	return &CandleCache{
		capacity: capacity,
		candles:  make([]Candle, 0, capacity),
	}
}

func (c *CandleCache) Add(cd Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candles = append(c.candles, cd)
	if len(c.candles) > c.capacity {
		c.candles = c.candles[len(c.candles)-c.capacity:]
	}
	c.total++
}

// Recent returns up to n of the latest candles, oldest first.
func (c *CandleCache) Recent(n int) []Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.candles) {
		n = len(c.candles)
	}
	out := make([]Candle, n)
	copy(out, c.candles[len(c.candles)-n:])
	return out
}

func (c *CandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candles)
}

// Total counts every candle ever added, including those evicted from the window.
func (c *CandleCache) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
