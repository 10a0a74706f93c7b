package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/papertrade-api/internal/auth"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/ksred/papertrade-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrValidation marks a malformed rule creation request. Requests failing
// validation are rejected at the boundary and never persisted.
var ErrValidation = errors.New("invalid rule request")

// Service handles trading rule registration and lifecycle queries
type Service struct {
	db *Database
}

// NewService creates a new rules service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateRule validates and registers a new price-trigger rule with
// idempotency support. Replaying the same idempotency key returns the
// previously created rule instead of persisting a duplicate.
// Parameters:
//   - req: the requested rule (symbol, side, target price, quantity)
//   - idempotencyKey: unique key to prevent duplicate rule creation
func (s *Service) CreateRule(req *types.CreateRuleRequest, idempotencyKey string) (*types.TradingRule, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Check for existing idempotency record
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetRule(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.New("rule not found")
		}
		return existing, nil
	}

	rule := &types.TradingRule{
		RuleID:      uuid.New().String(),
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:        req.Side,
		TargetPrice: req.TargetPrice,
		Quantity:    req.Quantity,
		Status:      types.StatusActive,
		CreatedAt:   time.Now(),
	}

	if err := s.db.CreateRuleWithIdempotency(rule, idempotencyKey); err != nil {
		return nil, err
	}

	return rule, nil
}

// GetRule retrieves a rule by its ID
func (s *Service) GetRule(ruleID string) (*types.TradingRule, error) {
	return s.db.GetRule(ruleID)
}

// ListActiveRules returns all rules awaiting a trigger
func (s *Service) ListActiveRules() ([]types.TradingRule, error) {
	return s.db.ListActiveRules()
}

// ListRulesByStatus returns all rules in the given lifecycle status
func (s *Service) ListRulesByStatus(status string) ([]types.TradingRule, error) {
	return s.db.ListRulesByStatus(status)
}

// TransitionStatus atomically moves a rule between lifecycle statuses,
// conditioned on the expected prior status
func (s *Service) TransitionStatus(ruleID, from, to string, executedAt *time.Time) (bool, error) {
	return s.db.TransitionStatus(ruleID, from, to, executedAt)
}

func validateRequest(req *types.CreateRuleRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return fmt.Errorf("%w: side must be %q or %q", ErrValidation, types.SideBuy, types.SideSell)
	}
	if req.TargetPrice <= 0 {
		return fmt.Errorf("%w: target price must be positive", ErrValidation)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return nil
}

// GinHandlers contains HTTP handlers for rule endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for rule endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateRuleHandler handles POST requests to register new trading rules
// Requires a valid JWT token and idempotency key in headers
// Request body should contain symbol, side, target price and quantity
func (h *GinHandlers) CreateRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get idempotency key from header
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req types.CreateRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rule, err := h.service.CreateRule(&req, idempotencyKey)
		if err != nil {
			if errors.Is(err, ErrValidation) {
				response.BadRequest(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		claims, _ := c.Get("claims")
		log.Info().
			Str("rule_id", rule.RuleID).
			Str("symbol", rule.Symbol).
			Str("side", rule.Side).
			Str("client_id", auth.GetClientID(claims)).
			Msg("rule created")

		response.Success(c, rule)
	}
}

// ListRulesHandler handles GET requests for rules
// Returns active rules by default; an optional status query parameter
// selects executed or failed rules instead
func (h *GinHandlers) ListRulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.DefaultQuery("status", types.StatusActive)
		switch status {
		case types.StatusActive, types.StatusExecuted, types.StatusFailed:
		default:
			response.BadRequest(c, "unknown status")
			return
		}

		rules, err := h.service.ListRulesByStatus(status)
		response.Handle(c, rules, err)
	}
}

// GetRuleHandler handles GET requests to retrieve a single rule
// URL parameter: rule_id
func (h *GinHandlers) GetRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ruleID := c.Param("rule_id")
		if ruleID == "" {
			response.BadRequest(c, "Rule ID is required")
			return
		}

		rule, err := h.service.GetRule(ruleID)
		if err != nil || rule == nil {
			response.NotFound(c, "Rule not found")
			return
		}

		response.Success(c, rule)
	}
}
