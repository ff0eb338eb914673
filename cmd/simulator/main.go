// Package main runs the market simulator: the scenario-adjusted price
// feed, the autonomous agent fleet, and the health/metrics endpoint in
// one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"percolator-sim/internal/agent"
	"percolator-sim/internal/clock"
	"percolator-sim/internal/executor"
	"percolator-sim/internal/feed"
	"percolator-sim/internal/health"
	"percolator-sim/internal/leaderboard"
	"percolator-sim/internal/observability"
	"percolator-sim/internal/percolator"
	"percolator-sim/internal/pricesource"
	"percolator-sim/internal/scenario"
	"percolator-sim/internal/solana"
	"percolator-sim/internal/storage"
	chstore "percolator-sim/internal/storage/clickhouse"
	"percolator-sim/internal/storage/memory"
	"percolator-sim/internal/storage/migrations"
	pgstore "percolator-sim/internal/storage/postgres"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; flags and real env win.
	_ = godotenv.Load()

	rpcURL := flag.String("rpc-url", envOr("SOLANA_RPC_URL", ""), "Solana RPC endpoint (required)")
	wsURL := flag.String("ws-url", envOr("SOLANA_WS_URL", ""), "Solana WebSocket endpoint for confirmations (optional, polls without it)")
	programID := flag.String("program-id", envOr("PERCOLATOR_PROGRAM_ID", ""), "Perp program ID (required)")
	adminKey := flag.String("admin-key", envOr("ADMIN_KEYPAIR", ""), "Base58 admin/counterparty keypair (required)")
	priceAPIURL := flag.String("price-api-url", envOr("PRICE_API_URL", "https://api.coingecko.com/api/v3"), "Reference price API base URL")
	marketsSpec := flag.String("markets", envOr("MARKETS", ""), "Markets as name:symbol:quoteID:stateAccount:vaultAccount, comma separated (required)")

	postgresDSN := flag.String("postgres-dsn", envOr("POSTGRES_DSN", ""), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", envOr("CLICKHOUSE_DSN", ""), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	healthAddr := flag.String("health-addr", envOr("HEALTH_ADDR", ":8080"), "Health/metrics listen address")
	disableAgents := flag.Bool("disable-agents", false, "Run the price feed without the agent fleet")
	agentCount := flag.Int("agents", 12, "Number of simulated agents")
	rosterSeed := flag.String("roster-seed", envOr("ROSTER_SEED", "percolator-sim"), "Seed for deterministic agent identities")
	feedTick := flag.Duration("feed-tick", 2*time.Second, "Price feed tick interval")

	flag.Parse()

	logger := log.New(os.Stderr, "[simulator] ", log.LstdFlags)

	if *rpcURL == "" {
		logger.Fatal("--rpc-url is required")
	}
	if *programID == "" {
		logger.Fatal("--program-id is required")
	}
	if *adminKey == "" {
		logger.Fatal("--admin-key is required")
	}
	if *marketsSpec == "" {
		logger.Fatal("--markets is required")
	}

	counterparty, err := solana.KeypairFromBase58(*adminKey)
	if err != nil {
		logger.Fatalf("parse admin key: %v", err)
	}
	progKey, err := solana.ParsePublicKey(*programID)
	if err != nil {
		logger.Fatalf("parse program id: %v", err)
	}
	markets, feedMarkets, err := parseMarkets(*marketsSpec)
	if err != nil {
		logger.Fatalf("parse markets: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	var (
		scenarioStore    storage.ScenarioStore     = memory.NewScenarioStore()
		priceHistory     storage.PriceHistoryStore = memory.NewPriceHistoryStore()
		tradeLogStore    storage.TradeLogStore     = memory.NewTradeLogStore()
		leaderboardStore storage.LeaderboardStore  = memory.NewLeaderboardStore()
	)
	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required when not using --use-memory")
		}
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required when not using --use-memory")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("postgres migrations: %v", err)
		}

		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			logger.Fatalf("clickhouse migrations: %v", err)
		}

		scenarioStore = pgstore.NewScenarioStore(pool)
		tradeLogStore = pgstore.NewTradeLogStore(pool)
		leaderboardStore = pgstore.NewLeaderboardStore(pool)
		priceHistory = chstore.NewPriceHistoryStore(conn)
	}

	clk := clock.Real{}
	metrics := observability.NewMetrics("percolator_sim", nil)

	// Ledger clients
	rpc := solana.NewHTTPClient(*rpcURL, solana.WithRateLimit(20, 40))
	var confirmer executor.Confirmer
	if *wsURL != "" {
		ws, err := solana.NewConfirmClient(ctx, *wsURL, nil)
		if err != nil {
			logger.Printf("websocket connect failed, falling back to polling: %v", err)
		} else {
			defer ws.Close()
			confirmer = ws
		}
	}

	program := &percolator.Program{ID: progKey}
	agg := leaderboard.New(leaderboardStore, clk, metrics,
		log.New(os.Stderr, "[leaderboard] ", log.LstdFlags))
	exec := executor.New(executor.Config{}, rpc, confirmer, program, markets, counterparty,
		tradeLogStore, agg, clk, metrics,
		log.New(os.Stderr, "[executor] ", log.LstdFlags))

	// Feed
	scenarios := scenario.NewEngine(scenarioStore, clk, scenario.DefaultCacheTTL,
		log.New(os.Stderr, "[scenario] ", log.LstdFlags))
	quotes := pricesource.NewClient(*priceAPIURL)
	priceFeed := feed.New(feed.Config{TickInterval: *feedTick, Markets: feedMarkets},
		quotes, scenarios, exec, priceHistory, clk, rand.New(rand.NewSource(time.Now().UnixNano())),
		metrics, log.New(os.Stderr, "[feed] ", log.LstdFlags))

	// Agent fleet
	var scheduler *agent.Scheduler
	if !*disableAgents {
		if len(feedMarkets) == 0 {
			logger.Fatal("agent fleet needs at least one market")
		}
		roster, err := agent.BuildRoster(*rosterSeed, *agentCount, feedMarkets[0].Name, feedMarkets[0].Symbol)
		if err != nil {
			logger.Fatalf("build roster: %v", err)
		}
		scheduler = agent.NewScheduler(agent.Config{}, roster, exec, scenarios, priceFeed, agg, clk, metrics,
			log.New(os.Stderr, "[agents] ", log.LstdFlags))
	}

	// Health + metrics endpoint
	var agentsStatus health.AgentsStatus
	if scheduler != nil {
		agentsStatus = scheduler
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.NewReporter(priceFeed, agentsStatus, clk).Handler())
	mux.Handle("/metrics", observability.Handler())
	httpServer := &http.Server{Addr: *healthAddr, Handler: mux}
	go func() {
		logger.Printf("health endpoint on %s", *healthAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("health server: %v", err)
		}
	}()

	// Shutdown: first signal cancels and lets in-flight ticks finish,
	// second signal (or a stuck shutdown) forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down...", sig)
		cancel()
		select {
		case sig := <-sigCh:
			logger.Printf("received second signal %v, forcing exit", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		priceFeed.Run(ctx)
	}()
	if scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	wg.Wait()

	// Final leaderboard flush before the process exits.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := agg.Flush(flushCtx); err != nil {
		logger.Printf("final leaderboard flush: %v", err)
	}
	flushCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = httpServer.Shutdown(shutdownCtx)
	shutdownCancel()

	close(done)
	logger.Println("shutdown complete")
}

// parseMarkets parses name:symbol:quoteID:stateAccount:vaultAccount
// entries into the executor and feed market configurations.
func parseMarkets(spec string) ([]percolator.Market, []feed.Market, error) {
	var ledgerMarkets []percolator.Market
	var feedMarkets []feed.Market

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 5 {
			return nil, nil, fmt.Errorf("market %q: want name:symbol:quoteID:stateAccount:vaultAccount", entry)
		}
		state, err := solana.ParsePublicKey(parts[3])
		if err != nil {
			return nil, nil, fmt.Errorf("market %q state account: %w", parts[0], err)
		}
		vault, err := solana.ParsePublicKey(parts[4])
		if err != nil {
			return nil, nil, fmt.Errorf("market %q vault account: %w", parts[0], err)
		}
		ledgerMarkets = append(ledgerMarkets, percolator.Market{
			Name:         parts[0],
			Symbol:       parts[1],
			StateAccount: state,
			VaultAccount: vault,
		})
		feedMarkets = append(feedMarkets, feed.Market{
			Name:    parts[0],
			Symbol:  parts[1],
			QuoteID: parts[2],
		})
	}
	if len(ledgerMarkets) == 0 {
		return nil, nil, fmt.Errorf("no markets configured")
	}
	return ledgerMarkets, feedMarkets, nil
}
