package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/papertrade-api/internal/auth"
	"github.com/ksred/papertrade-api/internal/database"
	"github.com/ksred/papertrade-api/internal/engine"
	"github.com/ksred/papertrade-api/internal/portfolio"
	"github.com/ksred/papertrade-api/internal/quotes"
	"github.com/ksred/papertrade-api/internal/rules"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/ksred/papertrade-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minRules      = 15
	maxRules      = 100
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	engineTicks   = 8
	tickInterval  = 500 * time.Millisecond
)

var (
	symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides   = []string{types.SideBuy, types.SideSell}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the paper-trading API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":         {name: "Authentication"},
			"quote":        {name: "Get Quote"},
			"create":       {name: "Create Rule"},
			"rules":        {name: "List Rules"},
			"portfolio":    {name: "Get Portfolio"},
			"transactions": {name: "Get Transactions"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// getQuote fetches the current simulated quote for a symbol
func (sc *simulationClient) getQuote(symbol string) (*types.Quote, error) {
	start := time.Now()
	defer func() {
		sc.stats["quote"].addDuration(time.Since(start))
	}()

	resp, err := sc.client.Get(fmt.Sprintf("%s/api/v1/quotes/%s", sc.baseURL, symbol))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get quote failed with status %d", resp.StatusCode)
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Quote `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result.Data, nil
}

// createRule submits a new trading rule to the API
// Returns the rule ID on success
func (sc *simulationClient) createRule(rule *types.CreateRuleRequest) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["create"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(rule)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/rules", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Create rule response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create rule failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			RuleID string `json:"rule_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.RuleID == "" {
		return "", fmt.Errorf("no rule ID in response: %s", string(respBody))
	}

	return result.Data.RuleID, nil
}

// listRules retrieves all rules in the given lifecycle status
func (sc *simulationClient) listRules(status string) ([]types.TradingRule, error) {
	start := time.Now()
	defer func() {
		sc.stats["rules"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/rules?status=%s", sc.baseURL, status),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rules failed with status %d", resp.StatusCode)
	}

	var result struct {
		Success bool                `json:"success"`
		Data    []types.TradingRule `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Data, nil
}

// getPortfolio retrieves the current portfolio with live P&L
func (sc *simulationClient) getPortfolio() ([]types.PortfolioEntry, error) {
	start := time.Now()
	defer func() {
		sc.stats["portfolio"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("GET", fmt.Sprintf("%s/api/v1/portfolio", sc.baseURL), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get portfolio failed with status %d", resp.StatusCode)
	}

	var result struct {
		Success bool                  `json:"success"`
		Data    []types.PortfolioEntry `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Data, nil
}

// getTransactions retrieves the recent transaction ledger
func (sc *simulationClient) getTransactions() ([]types.Transaction, error) {
	start := time.Now()
	defer func() {
		sc.stats["transactions"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("GET", fmt.Sprintf("%s/api/v1/transactions", sc.baseURL), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get transactions failed with status %d", resp.StatusCode)
	}

	var result struct {
		Success bool                `json:"success"`
		Data    []types.Transaction `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the paper-trading simulation
// It starts a local API server plus trade engine and registers rules from
// multiple concurrent clients, then waits for the engine to execute them
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of rules to register
	targetRules := rand.Intn(maxRules-minRules) + minRules
	log.Info().Int("target_rules", targetRules).Msg("Starting simulation")

	// Channel to collect rule IDs
	rulesChan := make(chan string, targetRules)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			createRulesHTTP(workerID, targetRules/numWorkers, simClient, rulesChan)
		}(i)
	}

	// Wait for all rules to be registered
	wg.Wait()
	close(rulesChan)

	var ruleIDs []string
	for ruleID := range rulesChan {
		ruleIDs = append(ruleIDs, ruleID)
	}

	log.Info().Int("rules_created", len(ruleIDs)).Msg("All rules registered")

	// Let the engine run a few evaluation cycles
	waitFor := time.Duration(engineTicks) * tickInterval
	log.Info().Dur("wait", waitFor).Msg("Waiting for trade engine ticks")
	time.Sleep(waitFor)

	// Collect results
	stats := struct {
		TotalRules    int
		ExecutedRules int
		ActiveRules   int
		FailedRules   int
		TotalValue    float64
		RealizedPnl   float64
		StartTime     time.Time
		Symbols       map[string]int
		Sides         map[string]int
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}
	stats.TotalRules = len(ruleIDs)

	executed, err := simClient.listRules(types.StatusExecuted)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list executed rules")
	}
	stats.ExecutedRules = len(executed)
	for _, rule := range executed {
		stats.Symbols[rule.Symbol]++
		stats.Sides[rule.Side]++
	}

	active, err := simClient.listRules(types.StatusActive)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active rules")
	}
	stats.ActiveRules = len(active)

	failed, err := simClient.listRules(types.StatusFailed)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list failed rules")
	}
	stats.FailedRules = len(failed)

	transactions, err := simClient.getTransactions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch transactions")
	}
	for _, tx := range transactions {
		stats.TotalValue += tx.TotalValue
		stats.RealizedPnl += tx.RealizedPnl
	}

	entries, err := simClient.getPortfolio()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch portfolio")
	}

	// Print summary
	duration := time.Since(stats.StartTime) + waitFor
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PAPER TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Rule Statistics
---------------
Total Rules:    %d
Executed:       %d
Still Active:   %d
Failed:         %d
Traded Value:   $%.2f
Realized PnL:   $%.2f
Duration:       %v

Symbol Distribution (executed)
------------------------------
`, stats.TotalRules, stats.ExecutedRules, stats.ActiveRules, stats.FailedRules,
		stats.TotalValue, stats.RealizedPnl, duration.Round(time.Millisecond))

	// Print symbol distribution with simple ASCII bar chart
	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}

	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(maxSymbolCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-6s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\nSide Distribution (executed)")
	fmt.Println("----------------------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalRules) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\nPortfolio")
	fmt.Println("---------")
	for _, entry := range entries {
		fmt.Printf("%-6s qty=%-6d avg=$%-10.2f value=$%-12.2f unrealized=$%.2f\n",
			entry.Symbol, entry.Quantity, entry.AvgPrice, entry.MarketValue, entry.UnrealizedPnl)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	executionRate := float64(stats.ExecutedRules) / float64(stats.TotalRules) * 100
	log.Info().
		Float64("execution_rate", executionRate).
		Int("total_rules", stats.TotalRules).
		Int("executed_rules", stats.ExecutedRules).
		Float64("total_value", stats.TotalValue).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// createRulesHTTP generates and submits random trading rules to the API
// Runs as a worker goroutine, sending created rule IDs to rulesChan.
// Targets are set close to the current simulated price so a good share of
// the rules trigger within a few engine ticks.
func createRulesHTTP(workerID, numRules int, simClient *simulationClient, rulesChan chan<- string) {
	for i := 0; i < numRules; i++ {
		symbol := symbols[rand.Intn(len(symbols))]
		side := sides[rand.Intn(len(sides))]

		quote, err := simClient.getQuote(symbol)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("symbol", symbol).
				Msg("Failed to fetch quote")
			continue
		}

		// Offset the target by up to 2% either side of the market
		offset := quote.Price * 0.02 * (rand.Float64()*2 - 1)
		rule := &types.CreateRuleRequest{
			Symbol:      symbol,
			Side:        side,
			TargetPrice: quote.Price + offset,
			Quantity:    int64(rand.Intn(100) + 1),
		}

		ruleID, err := simClient.createRule(rule)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("symbol", symbol).
				Msg("Failed to create rule")
			continue
		}

		rulesChan <- ruleID
		log.Info().
			Int("worker_id", workerID).
			Str("rule_id", ruleID).
			Str("symbol", symbol).
			Str("side", side).
			Float64("target_price", rule.TargetPrice).
			Int64("quantity", rule.Quantity).
			Msg("Rule created")

		// Random sleep between rules
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// startServer initializes and starts the paper-trading API server with a
// fast-ticking trade engine against the simulated quote feed
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	feed := quotes.NewSimulatedFeed()

	// Initialize services
	authService := auth.NewService(middleware.JWTSecret)
	rulesService := rules.NewService(db)
	portfolioService := portfolio.NewService(db, feed)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Start the trade engine on a short interval so the simulation
	// completes quickly
	processor := engine.NewProcessor(db, feed)
	processor.SetInterval(tickInterval)
	go processor.Start(context.Background())

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	rulesHandlers := rules.NewGinHandlers(rulesService)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)
	quoteHandlers := quotes.NewGinHandlers(feed)

	// Setup routes
	setupRoutes(router, authHandlers, rulesHandlers, portfolioHandlers, quoteHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality; the simulation skips auth middleware
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
		{
			ruleRoutes.POST("", rulesHandlers.CreateRuleHandler())
			ruleRoutes.GET("", rulesHandlers.ListRulesHandler())
			ruleRoutes.GET("/:rule_id", rulesHandlers.GetRuleHandler())
		}

		// Portfolio routes
		v1.GET("/portfolio", portfolioHandlers.GetPortfolioHandler())
		v1.GET("/transactions", portfolioHandlers.GetTransactionsHandler())
	}
}
