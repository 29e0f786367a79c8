package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rugsobserver/api"
	"rugsobserver/config"
	"rugsobserver/db"
	"rugsobserver/game"
	"rugsobserver/ingest"
	"rugsobserver/logger"
	"rugsobserver/relay"
	"rugsobserver/state"
	"rugsobserver/verify"
	"rugsobserver/ws"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables")
	}

	cfg := config.Load()

	if err := logger.Init(cfg.LogDir); err != nil {
		log.Printf("⚠️  Warning: logger initialization failed: %v", err)
	}
	defer logger.Sync()

	// Stores are optional: without them the observer still tracks, verifies
	// on demand and broadcasts, it just cannot answer historical queries.
	if cfg.DatabaseURL == "" {
		logger.Log.Warn("⚠️  DATABASE_URL not set, running without PostgreSQL")
	} else if err := db.InitPostgres(cfg.DatabaseURL); err != nil {
		logger.Log.Warnf("⚠️  PostgreSQL initialization failed: %v", err)
		logger.Log.Warn("   Round history and fairness records will not be persisted")
	}
	defer db.ClosePostgres()

	if err := db.InitRedis(cfg.RedisURL); err != nil {
		logger.Log.Warnf("⚠️  Redis initialization failed: %v", err)
		logger.Log.Warn("   Live state sharing and the games cache are disabled")
	}
	defer db.CloseRedis()

	cache := state.NewRoundCache(cfg.RoundCacheCapacity)

	hub := ws.NewHub()
	hub.SetSendTimeout(cfg.BroadcastTimeout)

	verifier := verify.NewService(cfg.VerifyWorkers, cfg.VerifyQueueSize)
	verifier.OnResult = func(gameID string, result game.VerifyResult) {
		hub.Publish(ws.ChannelGames, ws.NewFrame(ws.FrameVerification, gameID, result))
	}

	tracker := ingest.NewTracker(cfg, cache, hub, verifier)
	session := ingest.NewSession(cfg, tracker, hub)

	hub.LiveSnapshot = tracker.LiveFrame
	hub.OnVerify = func(gameID string) (ws.Frame, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		result, err := verifier.VerifyNow(ctx, gameID)
		if err != nil {
			return ws.Frame{}, err
		}
		return ws.NewFrame(ws.FrameVerification, gameID, result), nil
	}

	mirror, err := relay.Connect(cfg.NatsURL, cfg.NatsSubject)
	if err != nil {
		logger.Log.Warnf("⚠️  NATS mirror unavailable: %v", err)
	}
	if mirror != nil {
		hub.Mirror = mirror.Publish
	}

	go hub.Run()
	verifier.Start()

	// Rounds whose seed arrived while the observer was down still get
	// their verdict.
	requeueCtx, cancelRequeue := context.WithTimeout(context.Background(), 30*time.Second)
	verifier.RequeuePending(requeueCtx, config.MaxQueryLimit)
	cancelRequeue()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.Start(rootCtx)

	// HTTP surface: REST under request logging, raw websocket and metrics
	// outside it.
	queryAPI := &api.API{
		Cache:     cache,
		Hub:       hub,
		Session:   session,
		Verifier:  verifier,
		StartedAt: time.Now().UTC(),
	}
	apiMux := http.NewServeMux()
	queryAPI.Register(apiMux)

	mux := http.NewServeMux()
	mux.Handle("/api/", logger.RequestLogger(apiMux))
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Infof("🚀 Observer listening on %s", cfg.Addr())
		logger.Log.Info("📡 ws://" + cfg.Addr() + "/ws - live frames (feed; subscribe: trades, games)")
		logger.Log.Info("🔌 http://" + cfg.Addr() + "/api/... - query API, /metrics - Prometheus")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("❌ Server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Log.Info("🛑 Shutting down...")

	// Order matters: stop ingesting, then stop serving, then drain the
	// verification queue so queued verdicts still land in the stores.
	session.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warnf("⚠️  HTTP shutdown: %v", err)
	}

	hub.Close()
	verifier.Close()
	mirror.Close()

	logger.Log.Info("👋 Observer stopped")
}
