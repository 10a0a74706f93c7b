package quotes

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/ksred/papertrade-api/pkg/response"
)

// ErrUnavailable signals that no usable quote exists for a symbol right
// now: the symbol is unknown or the source reported a zero price. Callers
// skip the evaluation cycle for that symbol and try again next tick.
var ErrUnavailable = errors.New("quote unavailable")

// Source provides point-in-time market quotes. Implementations must honor
// the context deadline so one stalled symbol cannot stall a whole tick.
type Source interface {
	Quote(ctx context.Context, symbol string) (*types.Quote, error)
}

// GinHandlers contains HTTP handlers for quote endpoints
type GinHandlers struct {
	source Source
}

// NewGinHandlers creates a new set of HTTP handlers for quote endpoints
func NewGinHandlers(source Source) *GinHandlers {
	return &GinHandlers{
		source: source,
	}
}

// GetQuoteHandler handles GET requests for a live quote
// URL parameter: symbol
func (h *GinHandlers) GetQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}

		quote, err := h.source.Quote(c.Request.Context(), symbol)
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				response.NotFound(c, "Symbol not found or invalid")
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, quote)
	}
}
