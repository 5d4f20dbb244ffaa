package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-link/config"
	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/handlers"
	"github.com/cufee/botto-link/linking"
	"github.com/cufee/botto-link/metrics"
	"github.com/cufee/botto-link/phrase"
	"github.com/cufee/botto-link/roblox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(env.LogDevelopment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, env, logger); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

func run(ctx context.Context, env config.Env, logger *zap.Logger) error {
	store, err := db.Open(env.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	guilds := config.NewGuilds(store)

	robloxClient := roblox.NewClient(
		&http.Client{Timeout: env.RobloxTimeout},
		rate.NewLimiter(rate.Limit(env.RobloxRate), env.RobloxBurst),
		logger,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	session, err := discordgo.New("Bot " + env.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = config.Intents

	deps := linking.Deps{
		Registry:   linking.NewRegistry(collector),
		Accounts:   robloxClient,
		Identities: store,
		Bindings:   store,
		Members:    handlers.NewMembers(session),
		Settings:   guilds,
		Auditor:    handlers.NewAuditor(session, guilds, logger),
		Metrics:    collector,
		Logger:     logger,
	}
	verifier := linking.NewVerifier(deps, phrase.Default(), env.PromptTimeout)
	unverifier := linking.NewUnverifier(deps, env.PromptTimeout, env.UnverifySettle)
	unverifier.Guilds = handlers.StateGuilds(session)
	reconciler := linking.NewReconciler(deps, linking.ReconcilerConfig{
		Attempts:   env.RoleAttempts,
		RetryDelay: env.RoleRetry,
		Cooldown:   env.RoleCooldown,
	})

	bot := handlers.NewBot(ctx, handlers.Options{
		Guilds:     guilds,
		Store:      store,
		Groups:     robloxClient,
		Registry:   deps.Registry,
		Verifier:   verifier,
		Unverifier: unverifier,
		Reconciler: reconciler,
		Logger:     logger,
	})
	verifier.OnVerified = bot.ReconcileAsync
	bot.Register(session, env.Prefix)

	metricsServer := &http.Server{
		Addr:              env.MetricsAddr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := session.Open(); err != nil {
			return fmt.Errorf("open discord session: %w", err)
		}
		logger.Info("bot started", zap.String("prefix", env.Prefix))
		<-gctx.Done()
		return session.Close()
	})
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", env.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
