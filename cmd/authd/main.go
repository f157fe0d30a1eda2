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

	"github.com/jamesacres/bubblyclouds-auth/internal/account"
	"github.com/jamesacres/bubblyclouds-auth/internal/artifact"
	"github.com/jamesacres/bubblyclouds-auth/internal/config"
	"github.com/jamesacres/bubblyclouds-auth/internal/db"
	"github.com/jamesacres/bubblyclouds-auth/internal/interaction"
	"github.com/jamesacres/bubblyclouds-auth/internal/metrics"
	"github.com/jamesacres/bubblyclouds-auth/internal/server/middleware"
	"github.com/jamesacres/bubblyclouds-auth/internal/signincode"
	"github.com/jamesacres/bubblyclouds-auth/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath, cfg.Verbose)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := db.EnsureAdminKey(database, cfg.AdminAPIKey); err != nil {
		log.Fatalf("Failed to initialize admin key: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// Artifact store
	backend := artifact.WithReadRetry(artifact.NewGormBackend(database),
		artifact.WithMaxAttempts(cfg.StoreMaxAttempts),
		artifact.WithRetryMetrics(collector))
	artifacts := artifact.NewRegistry(backend, artifact.WithMetrics(collector))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	artifact.NewSweeper(artifacts, cfg.SweepInterval).Start(ctx)

	// Login flow
	codes := signincode.New(artifacts.For(artifact.KindSignInCode),
		signincode.WithTTL(cfg.SignInCodeTTL),
		signincode.WithMetrics(collector))
	accounts := account.New(artifacts.For(artifact.KindAccount), account.WithIDPrefix(cfg.AccountIDPrefix))
	providers := cfg.FederatedRegistry(cfg.SecretSource())
	engine := interaction.NewStoreEngine(artifacts.For(artifact.KindInteraction), nil)

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.LoginRatePerMinute))
	defer limiter.Stop()

	login := interaction.NewHandler(engine, codes, accounts, providers, cfg.MailSender(), interaction.Config{
		MountPath:     cfg.MountPath,
		ProductName:   cfg.ProductName,
		SecureCookies: cfg.SecureCookies(),
	}, interaction.WithMetrics(collector))

	r := newRouter(routerDeps{
		database:  database,
		artifacts: artifacts,
		accounts:  accounts,
		login:     login.Routes(limiter.Middleware),
		mountPath: cfg.MountPath,
		gatherer:  reg,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown failed: %v", err)
		}
	}()

	log.Printf("🚀 bubblyclouds-auth %s (%s) starting on http://%s", version.Version, version.Commit, cfg.Addr())
	log.Printf("🔐 Interactions: %s%s/interaction/{uid}", cfg.ServerURL, cfg.MountPath)
	log.Printf("🌐 Federated providers: %v", providers.Names())
	log.Printf("📊 Metrics: http://%s/metrics", cfg.Addr())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("👋 Server stopped")
}
