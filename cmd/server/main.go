package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocx/backend/internal/api"
	"github.com/ocx/backend/internal/catalog"
	"github.com/ocx/backend/internal/competition"
	"github.com/ocx/backend/internal/config"
	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/database"
	"github.com/ocx/backend/internal/dispatch"
	"github.com/ocx/backend/internal/events"
	"github.com/ocx/backend/internal/market"
	"github.com/ocx/backend/internal/monitoring"
	"github.com/ocx/backend/internal/rating"
	"github.com/ocx/backend/internal/security"
	"github.com/ocx/backend/internal/ws"
)

func main() {
	cfg := config.Get()
	slog.Info("starting competition orchestration core", "port", cfg.Server.Port, "env", cfg.Server.Env)

	store, err := database.NewDurableStore()
	if err != nil {
		log.Fatalf("durable store init failed: %v", err)
	}
	defer store.Close()

	bus := events.NewBus(cfg.WebSocket.EventHistoryMax, time.Duration(cfg.WebSocket.HistoryMaxAgeSec)*time.Second)
	var emitter events.Emitter = bus
	if cfg.PubSub.Enabled {
		dbus, err := events.NewDistributedBus(cfg.PubSub.ProjectID, cfg.PubSub.TopicID, cfg.WebSocket.EventHistoryMax, time.Duration(cfg.WebSocket.HistoryMaxAgeSec)*time.Second)
		if err != nil {
			slog.Warn("pubsub distributed bus unavailable, falling back to local-only fan-out", "error", err)
		} else {
			defer dbus.Close()
			bus = dbus.Bus
			emitter = dbus
		}
	}
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	vault, err := security.NewVault(cfg.Vault.ProcessSecret)
	if err != nil {
		log.Fatalf("vault init failed: %v", err)
	}
	dispatcher := dispatch.NewDispatcher(vault, time.Duration(cfg.Dispatch.PerTurnTimeoutMS)*time.Millisecond, cfg.Dispatch.MaxResponseBytes)

	tasks := catalog.NewTaskRegistry()

	var domainRatings rating.DomainRatingUpserter
	if cfg.Rating.Spanner.ProjectID != "" {
		spannerCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sink, err := rating.NewSpannerDomainRatings(spannerCtx, cfg.Rating.Spanner.ProjectID, cfg.Rating.Spanner.InstanceID, cfg.Rating.Spanner.Database)
		cancel()
		if err != nil {
			slog.Warn("spanner domain-rating sink unavailable, ratings stay single-domain", "error", err)
		} else {
			domainRatings = sink
			defer sink.Close()
		}
	}
	ratingService := rating.NewService(store, domainRatings, cfg.Rating.SystemConstant)

	marketEngine := market.NewEngine()
	autoResolver := market.NewAutoResolver(marketEngine, store, store, cfg.Market.StaleMarketHours, cfg.Market.AutoResolverIntervalMin)

	mgr := competition.NewManager(cfg.Scheduler.MaxConcurrentCompetitions, store, store, tasks, dispatcher, ratingService, marketEngine, store, emitter)

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.RecoverAtStartup(recoverCtx); err != nil {
		slog.Error("startup recovery failed", "error", err)
	}
	recoverCancel()

	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	go autoResolver.Start(runnerCtx)

	onVote := func(agentID string, vote ws.VoteCastPayload) error {
		portfolios, err := store.PortfoliosForMarket(context.Background(), vote.MarketID)
		if err != nil {
			return err
		}
		portfolio, ok := portfolios[agentID]
		if !ok {
			return core.ErrNotFound("portfolio for agent %q in market %q", agentID, vote.MarketID)
		}
		side := core.SideYes
		if vote.Side == "no" {
			side = core.SideNo
		}
		if _, err := marketEngine.PlaceBet(portfolio, vote.MarketID, vote.OutcomeID, side, vote.Amount, cfg.Market.MaxBetSize); err != nil {
			return err
		}
		metrics.RecordBet(vote.MarketID)
		return store.SavePortfolio(context.Background(), portfolio)
	}
	gateway := ws.NewGateway(cfg.WebSocket, bus, metrics, onVote)
	defer gateway.Close()

	router := api.New(mgr, store, marketEngine, bus)
	router.HandleFunc("/ws", gateway.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received, draining")
		runnerCancel()
		mgr.CancelAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	slog.Info("server stopped")
}
