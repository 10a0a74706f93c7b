package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ksred/papertrade-api/internal/types"
	"github.com/rs/zerolog/log"
)

const defaultFinnhubURL = "https://finnhub.io/api/v1"

// FinnhubClient fetches real-time quotes from the Finnhub REST API
type FinnhubClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewFinnhubClient creates a Finnhub-backed quote source using the given
// API key
func NewFinnhubClient(apiKey string) *FinnhubClient {
	return &FinnhubClient{
		baseURL: defaultFinnhubURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewFinnhubClientWithBaseURL creates a client against a non-default
// endpoint, used by tests
func NewFinnhubClientWithBaseURL(apiKey, baseURL string) *FinnhubClient {
	c := NewFinnhubClient(apiKey)
	c.baseURL = baseURL
	return c
}

// finnhubQuote mirrors the wire format of Finnhub's /quote endpoint
type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
}

// Quote fetches a real-time quote for the symbol. A current price of
// exactly zero is how Finnhub reports an unknown symbol, so it maps to
// ErrUnavailable rather than a zero-priced quote.
func (f *FinnhubClient) Quote(ctx context.Context, symbol string) (*types.Quote, error) {
	symbol = strings.ToUpper(symbol)

	endpoint := fmt.Sprintf("%s/quote?symbol=%s&token=%s", f.baseURL, url.QueryEscape(symbol), url.QueryEscape(f.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("quote fetch failed")
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Str("symbol", symbol).Msg("quote fetch returned non-200")
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}

	var payload finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}

	if payload.Current == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}

	return &types.Quote{
		Symbol:        symbol,
		Price:         payload.Current,
		Change:        payload.Change,
		ChangePercent: payload.ChangePercent,
		High:          payload.High,
		Low:           payload.Low,
		Open:          payload.Open,
		PreviousClose: payload.PreviousClose,
	}, nil
}
