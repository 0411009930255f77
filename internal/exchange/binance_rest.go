package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

// exchangeInfoResponse is the slice of /api/v3/exchangeInfo we care about.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol string `json:"symbol"` // e.g., "BTCUSDT"
		Status string `json:"status"` // "TRADING" when the pair is live
	} `json:"symbols"`
}

// CheckSymbol verifies over REST that the venue is reachable and the symbol
// exists and is currently trading. The server calls this once per symbol at
// startup before a pipeline is created.
func (b *Binance) CheckSymbol(ctx context.Context, symbol string) error {
	endpoint := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s",
		b.cfg.RESTURL, restSymbol(symbol))

	ctx, cancel := context.WithTimeout(ctx, b.cfg.RESTTimeout)
	defer cancel()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	// Execute the HTTP request
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("binance error: %s", body)
	}

	var info exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol == restSymbol(symbol) {
			if s.Status != "TRADING" {
				return fmt.Errorf("symbol %s is not trading (status %s)", symbol, s.Status)
			}
			return nil
		}
	}
	return fmt.Errorf("symbol %s not listed on binance", symbol)
}

// restSymbol converts "BTC-USDT" into Binance's uppercase "BTCUSDT" form.
func restSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}
