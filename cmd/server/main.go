package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/papertrade-api/internal/auth"
	"github.com/ksred/papertrade-api/internal/database"
	"github.com/ksred/papertrade-api/internal/engine"
	"github.com/ksred/papertrade-api/internal/portfolio"
	"github.com/ksred/papertrade-api/internal/quotes"
	"github.com/ksred/papertrade-api/internal/rules"
	"github.com/ksred/papertrade-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the paper-trading server with graceful shutdown
// support. It wires the quote source, database, API routes and the
// background trade engine.
func main() {
	// Initialize database
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "trading.db"
	}
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Pick the quote source: real market data with an API key, otherwise
	// the simulated feed
	var source quotes.Source
	if apiKey := os.Getenv("FINNHUB_API_KEY"); apiKey != "" {
		source = quotes.NewFinnhubClient(apiKey)
		zlog.Info().Msg("using finnhub quote source")
	} else {
		source = quotes.NewSimulatedFeed()
		zlog.Info().Msg("no FINNHUB_API_KEY set, using simulated quote feed")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(middleware.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	rulesService := rules.NewService(db)
	rulesHandlers := rules.NewGinHandlers(rulesService)

	portfolioService := portfolio.NewService(db, source)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)

	quoteHandlers := quotes.NewGinHandlers(source)

	// Create and start the trade engine
	processor := engine.NewProcessor(db, source)
	if raw := os.Getenv("TRADE_INTERVAL"); raw != "" {
		if interval, err := time.ParseDuration(raw); err == nil {
			processor.SetInterval(interval)
		} else {
			zlog.Warn().Str("value", raw).Msg("invalid TRADE_INTERVAL, using default")
		}
	}
	if raw := os.Getenv("QUOTE_TIMEOUT"); raw != "" {
		if timeout, err := time.ParseDuration(raw); err == nil {
			processor.SetQuoteTimeout(timeout)
		} else {
			zlog.Warn().Str("value", raw).Msg("invalid QUOTE_TIMEOUT, using default")
		}
	}

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	go processor.Start(engineCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, rulesHandlers, portfolioHandlers, quoteHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the trade engine before closing the API surface
	engineCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Quote routes: Public market data reads
// - Rule and portfolio routes: Protected by JWT authentication
// Parameters:
//   - router: The main Gin router instance
//   - authHandlers: Handlers for authentication endpoints
//   - rulesHandlers: Handlers for trading rule management
//   - portfolioHandlers: Handlers for portfolio and ledger reads
//   - quoteHandlers: Handlers for live quote lookups
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	rulesHandlers *rules.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
	quoteHandlers *quotes.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Quote routes
		v1.GET("/quotes/:symbol", quoteHandlers.GetQuoteHandler())

		// Rule routes
		ruleRoutes := v1.Group("/rules")
		ruleRoutes.Use(middleware.JWTAuth())
		{
			ruleRoutes.POST("", rulesHandlers.CreateRuleHandler())
			ruleRoutes.GET("", rulesHandlers.ListRulesHandler())
			ruleRoutes.GET("/:rule_id", rulesHandlers.GetRuleHandler())
		}

		// Portfolio routes
		portfolioRoutes := v1.Group("")
		portfolioRoutes.Use(middleware.JWTAuth())
		{
			portfolioRoutes.GET("/portfolio", portfolioHandlers.GetPortfolioHandler())
			portfolioRoutes.GET("/transactions", portfolioHandlers.GetTransactionsHandler())
		}
	}
}
