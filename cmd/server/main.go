package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vitalink/internal/config"
	"vitalink/internal/db"
	"vitalink/internal/engine"
	"vitalink/internal/handlers"
	"vitalink/internal/hub"
	mw "vitalink/internal/middleware"
	"vitalink/internal/mqttbridge"
	"vitalink/internal/store"
)

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("logger init failed", zap.Error(err))
	}
	defer logger.Sync()

	dbConn, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open db", zap.Error(err))
	}
	dbConn.SetMaxOpenConns(10)
	dbConn.SetConnMaxLifetime(2 * time.Hour)
	if err = dbConn.Ping(); err != nil {
		logger.Fatal("failed to ping db", zap.Error(err))
	}
	if err := db.RunMigrations(dbConn); err != nil {
		logger.Fatal("failed migrations", zap.Error(err))
	}

	pg := store.NewPostgres(dbConn)
	liveHub := hub.New(logger)
	eng := engine.New(pg, liveHub, logger, cfg.MergeWindow, cfg.ValidationPolicy)

	var bridge *mqttbridge.Bridge
	if cfg.MQTTBroker != "" {
		bridge = mqttbridge.New(cfg.MQTTBroker, cfg.MQTTClientID, pg, eng, logger)
		if err := bridge.Start(); err != nil {
			logger.Fatal("mqtt bridge failed to start", zap.Error(err))
		}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mw.ZapRequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Emotion-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	ingestHandler := handlers.NewIngestHandler(eng, logger)
	keyHandler := handlers.NewDeviceKeyHandler(pg, logger)
	readingsHandler := handlers.NewReadingsHandler(pg, pg, eng, logger)
	deviceAuth := mw.NewDeviceAuth(pg, logger)
	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))

	r.Route("/api", func(api chi.Router) {
		// Device traffic, keyed by rotating hashed credentials.
		api.Group(func(dev chi.Router) {
			dev.Use(deviceAuth.RequireKey)
			dev.Post("/ingest", ingestHandler.Ingest)
			dev.Post("/iot/ingest", ingestHandler.IngestVitals)
			dev.Post("/emotion/ingest", ingestHandler.IngestEmotion)
		})
		// Dashboard traffic, bearer tokens from the identity provider.
		api.Group(func(dash chi.Router) {
			dash.Use(authMW.RequireAuth)
			dash.Post("/iot/key", keyHandler.IssueIoTKey)
			dash.Post("/emotion/key", keyHandler.IssueEmotionKey)
			dash.Get("/emotion/latest", readingsHandler.LatestEmotions)
			dash.Get("/readings", readingsHandler.List)
			dash.Post("/simulate", readingsHandler.Simulate)
		})
		// Live channel; clients filter events by userId themselves.
		api.Get("/emotion/ws", liveHub.ServeHTTP)
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown initiated")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if bridge != nil {
		bridge.Stop()
	}
	liveHub.Close()
	logger.Info("server stopped")
}
