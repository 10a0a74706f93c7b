package portfolio

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/papertrade-api/internal/quotes"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/ksred/papertrade-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultTransactionLimit = 50

// Service exposes the tracked paper portfolio and its transaction ledger
type Service struct {
	db     *Database
	source quotes.Source
}

// NewService creates a new portfolio service. source may be nil, in which
// case portfolio reads skip live market enrichment.
func NewService(gormDB *gorm.DB, source quotes.Source) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		source: source,
	}
}

// GetPosition retrieves the position for a symbol, nil when absent
func (s *Service) GetPosition(symbol string) (*types.Position, error) {
	return s.db.GetPosition(symbol)
}

// ListPositions returns all open positions
func (s *Service) ListPositions() ([]types.Position, error) {
	return s.db.ListPositions()
}

// ListTransactions returns the most recent ledger entries
func (s *Service) ListTransactions(limit int) ([]types.Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	return s.db.ListTransactions(limit)
}

// Portfolio returns all open positions enriched with live market value and
// unrealized profit where a quote is available. A symbol with no usable
// quote still appears, just without the live fields.
func (s *Service) Portfolio(ctx context.Context) ([]types.PortfolioEntry, error) {
	positions, err := s.db.ListPositions()
	if err != nil {
		return nil, err
	}

	entries := make([]types.PortfolioEntry, 0, len(positions))
	for _, p := range positions {
		entry := types.PortfolioEntry{
			Symbol:    p.Symbol,
			Quantity:  p.Quantity,
			AvgPrice:  p.AvgPrice,
			UpdatedAt: p.UpdatedAt,
		}

		if s.source != nil {
			quoteCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			quote, err := s.source.Quote(quoteCtx, p.Symbol)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("symbol", p.Symbol).Msg("skipping live enrichment")
			} else {
				entry.CurrentPrice = quote.Price
				entry.MarketValue = quote.Price * float64(p.Quantity)
				entry.UnrealizedPnl = (quote.Price - p.AvgPrice) * float64(p.Quantity)
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for portfolio endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetPortfolioHandler handles GET requests for the current portfolio with
// live P&L
func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.service.Portfolio(c.Request.Context())
		response.Handle(c, entries, err)
	}
}

// GetTransactionsHandler handles GET requests for recent transactions
// Optional query parameter: limit
func (h *GinHandlers) GetTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultTransactionLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		txs, err := h.service.ListTransactions(limit)
		response.Handle(c, txs, err)
	}
}
