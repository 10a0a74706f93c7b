package quotes

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ksred/papertrade-api/internal/types"
	"github.com/rs/zerolog/log"
)

// SimulatedFeed is a mock market data source. Each symbol gets a
// deterministic opening price and then follows a bounded random walk on
// every fetch, with simulated network latency. It keeps the server and
// the simulation client runnable without a market data subscription.
type SimulatedFeed struct {
	mu     sync.Mutex
	prices map[string]*simulatedSymbol

	MinLatency time.Duration
	MaxLatency time.Duration
	Volatility float64 // max fractional move per fetch
}

type simulatedSymbol struct {
	price    float64
	dayOpen  float64
	dayHigh  float64
	dayLow   float64
	previous float64
}

// NewSimulatedFeed creates a simulated quote source with default latency
// and volatility characteristics
func NewSimulatedFeed() *SimulatedFeed {
	return &SimulatedFeed{
		prices:     make(map[string]*simulatedSymbol),
		MinLatency: 5 * time.Millisecond,
		MaxLatency: 30 * time.Millisecond,
		Volatility: 0.01, // 1% per fetch
	}
}

// Quote returns the next price on the symbol's random walk
func (s *SimulatedFeed) Quote(ctx context.Context, symbol string) (*types.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrUnavailable
	}

	// Simulate network latency, bailing out if the caller's deadline hits first
	latency := s.MinLatency
	if s.MaxLatency > s.MinLatency {
		latency += time.Duration(rand.Int63n(int64(s.MaxLatency - s.MinLatency)))
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.prices[symbol]
	if !exists {
		open := seedPrice(symbol)
		state = &simulatedSymbol{
			price:    open,
			dayOpen:  open,
			dayHigh:  open,
			dayLow:   open,
			previous: open,
		}
		s.prices[symbol] = state
		log.Debug().Str("symbol", symbol).Float64("open", open).Msg("opened simulated symbol")
	}

	// Bounded random walk
	move := state.price * s.Volatility * (rand.Float64()*2 - 1)
	state.price += move
	if state.price < 0.01 {
		state.price = 0.01
	}
	if state.price > state.dayHigh {
		state.dayHigh = state.price
	}
	if state.price < state.dayLow {
		state.dayLow = state.price
	}

	change := state.price - state.previous
	return &types.Quote{
		Symbol:        symbol,
		Price:         state.price,
		Change:        change,
		ChangePercent: change / state.previous * 100,
		High:          state.dayHigh,
		Low:           state.dayLow,
		Open:          state.dayOpen,
		PreviousClose: state.previous,
	}, nil
}

// SetPrice pins the current price for a symbol, used by tests and the
// simulation client to steer triggers
func (s *SimulatedFeed) SetPrice(symbol string, price float64) {
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.prices[symbol]
	if !exists {
		state = &simulatedSymbol{
			dayOpen:  price,
			dayHigh:  price,
			dayLow:   price,
			previous: price,
		}
		s.prices[symbol] = state
	}
	state.price = price
}

// seedPrice derives a stable opening price from the symbol name so
// repeated runs start from the same levels
func seedPrice(symbol string) float64 {
	var h uint64
	for _, r := range symbol {
		h = h*31 + uint64(r)
	}
	return 20 + float64(h%480) + float64(h%100)/100
}
