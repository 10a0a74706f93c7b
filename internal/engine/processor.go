package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/papertrade-api/internal/portfolio"
	"github.com/ksred/papertrade-api/internal/quotes"
	"github.com/ksred/papertrade-api/internal/rules"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	defaultInterval     = 5 * time.Second
	defaultQuoteTimeout = 3 * time.Second
)

// Processor drives the periodic evaluation cycle: on each tick it re-reads
// the active rules and, for each one, fetches a quote, evaluates the
// trigger, and executes if it fired. A single goroutine runs the loop, so
// ticks never overlap; the ticker simply drops ticks while a slow cycle is
// still running.
type Processor struct {
	db           *gorm.DB
	rules        *rules.Database
	source       quotes.Source
	executor     *Executor
	interval     time.Duration // time between evaluation cycles
	quoteTimeout time.Duration // bound on a single quote fetch
}

// NewProcessor creates the scheduler with default cadence
func NewProcessor(db *gorm.DB, source quotes.Source) *Processor {
	return &Processor{
		db:           db,
		rules:        rules.NewDatabase(db),
		source:       source,
		executor:     NewExecutor(db),
		interval:     defaultInterval,
		quoteTimeout: defaultQuoteTimeout,
	}
}

// SetInterval overrides the tick cadence
func (p *Processor) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval = d
	}
}

// SetQuoteTimeout overrides the per-fetch bound
func (p *Processor) SetQuoteTimeout(d time.Duration) {
	if d > 0 {
		p.quoteTimeout = d
	}
}

// Start begins the evaluation loop and blocks until ctx is cancelled
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "trade_engine").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting trade engine")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down trade engine")
			return
		case <-ticker.C:
			if err := p.runCycle(ctx); err != nil {
				logger.Error().Err(err).Msg("evaluation cycle failed")
			}
		}
	}
}

// runCycle evaluates every active rule once. Rules are processed
// independently: a failure on one is logged and the cycle moves on.
func (p *Processor) runCycle(ctx context.Context) error {
	logger := log.With().Str("component", "trade_engine").Logger()

	active, err := p.rules.ListActiveRules()
	if err != nil {
		return err
	}

	logger.Debug().Int("active_rules", len(active)).Msg("evaluating trading rules")

	for i := range active {
		rule := &active[i]
		if err := p.processRule(ctx, rule); err != nil {
			logger.Error().
				Err(err).
				Str("rule_id", rule.RuleID).
				Str("symbol", rule.Symbol).
				Msg("rule processing failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}

// processRule runs one rule through [fetch quote -> evaluate -> execute]
func (p *Processor) processRule(ctx context.Context, rule *types.TradingRule) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.quoteTimeout)
	quote, err := p.source.Quote(fetchCtx, rule.Symbol)
	cancel()
	if err != nil {
		// Transient: the rule stays active and is retried next tick
		log.Debug().
			Err(err).
			Str("rule_id", rule.RuleID).
			Str("symbol", rule.Symbol).
			Msg("quote unavailable, skipping rule this cycle")
		return nil
	}

	if !ShouldTrigger(rule, quote) {
		return nil
	}

	log.Info().
		Str("rule_id", rule.RuleID).
		Str("symbol", rule.Symbol).
		Str("side", rule.Side).
		Float64("price", quote.Price).
		Float64("target_price", rule.TargetPrice).
		Msg("rule triggered")

	if _, err := p.executor.Execute(rule, quote.Price); err != nil {
		if errors.Is(err, portfolio.ErrInsufficientHoldings) {
			// Already logged by the executor; rule remains active
			return nil
		}
		return err
	}

	return nil
}
