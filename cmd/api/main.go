package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"companion-calls/db"
	"companion-calls/internal/auth"
	"companion-calls/internal/blob"
	"companion-calls/internal/calllog"
	"companion-calls/internal/carrier"
	"companion-calls/internal/config"
	"companion-calls/internal/correlator"
	"companion-calls/internal/httpapi"
	"companion-calls/internal/pipeline"
	"companion-calls/internal/scheduler"
	"companion-calls/internal/store"
	"companion-calls/internal/trigger"
	"companion-calls/internal/vector"
	"companion-calls/internal/voice"
	"companion-calls/pkg/logger"
	"companion-calls/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; env wins over file values.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	dbConn, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := utils.Migrate(rootCtx, dbConn, db.Migrations, "migrations"); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	st := store.NewPostgres(dbConn)
	platform := voice.NewClient(cfg.Voice)
	sched := scheduler.New(st, scheduler.NewPostgresRepo(dbConn), platform, rdb, log)

	var blobs blob.Store
	if cfg.Blob.Endpoint != "" {
		blobs = blob.NewHTTPStore(cfg.Blob)
	} else {
		log.Warn("blob endpoint not configured, recordings held in memory only")
		blobs = blob.NewMemory()
	}

	var index vector.Index
	if cfg.Vector.URL != "" {
		index = vector.NewHTTPIndex(cfg.Vector)
	}

	pipe := pipeline.New(st, blobs, index, platform, log)
	if loc, err := time.LoadLocation("America/Mexico_City"); err == nil {
		pipe.SetLocation(loc)
	}

	corr := correlator.New(st, sched, pipe, log)
	callLog := calllog.NewService(calllog.NewPostgresRepo(dbConn))

	// Re-arm timers for calls persisted before the last restart, then keep
	// polling the due index for anything the timers miss.
	if err := sched.Recover(rootCtx); err != nil {
		log.Error("scheduler recovery failed", "err", err)
	}
	go sched.RunDueSweeper(rootCtx, time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		AuthMW: auth.RequireAccessToken(authManager),
		API: httpapi.Handlers{
			Auth:  authManager,
			Sched: sched,
			Store: st,
			Index: index,
			Env:   cfg.App.Env,
		},
		Voice: voice.WebhookHandler{Sink: corr, Secret: cfg.Voice.WebhookSecret},
		Carrier: &carrier.WebhookHandler{
			Log:    callLog,
			Sink:   sched,
			Secret: cfg.Carrier.WebhookSecret,
		},
		Trigger: &trigger.Handler{
			Sched:          sched,
			Secret:         cfg.Trigger.WebhookSecret,
			FirstCallDelay: cfg.Calls.FirstCallDelay,
		},
		DB: dbConn,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
