package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/workhubhq/gatekeeper/internal/admin"
	"github.com/workhubhq/gatekeeper/internal/config"
	"github.com/workhubhq/gatekeeper/internal/counter"
	"github.com/workhubhq/gatekeeper/internal/gateway"
	"github.com/workhubhq/gatekeeper/internal/guard"
	"github.com/workhubhq/gatekeeper/internal/logger"
	"github.com/workhubhq/gatekeeper/internal/rule"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Adaptive admission control gateway",
	}

	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("gatekeeper starting")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := rule.Open(filepath.Join(cfg.DataDir, "rules.db"))
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}
	defer store.Close()

	cache := rule.NewCache(store, cfg.RuleCacheTTL, log)
	resolver := rule.NewResolver(cache)

	readies := []gateway.Pinger{store}

	// memStore stays nil on the redis backend; the janitor skips it.
	var memStore *counter.MemoryStore
	var primary counter.Store
	switch cfg.CounterBackend {
	case "memory":
		memStore = counter.NewMemoryStore()
		primary = memStore
	default:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.RedisTimeout,
			ReadTimeout:  cfg.RedisTimeout,
			WriteTimeout: cfg.RedisTimeout,
		})
		defer client.Close()
		rs := counter.NewRedisStore(client, cfg.CounterPrefix)
		readies = append(readies, rs)
		primary = rs
	}

	fallback, err := counter.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open fallback counter store: %w", err)
	}
	defer fallback.Close()

	tiers, err := parseTiers(cfg)
	if err != nil {
		return fmt.Errorf("parse fallback tiers: %w", err)
	}

	g := guard.New(resolver, primary, fallback, tiers, log)
	adminH := admin.NewHandler(store, cache, log)
	janitor := counter.NewJanitor(fallback, memStore, cfg.JanitorInterval, log)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no upstream configured", http.StatusNotFound)
	})

	gw := gateway.New(cfg, g, adminH, janitor, next, readies, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return gw.Run(ctx)
}

// parseTiers builds the static fallback ladder from config.
func parseTiers(cfg *config.Config) ([]guard.Tier, error) {
	specs := []struct{ name, val string }{
		{"short", cfg.FallbackShort},
		{"medium", cfg.FallbackMedium},
		{"long", cfg.FallbackLong},
	}
	tiers := make([]guard.Tier, 0, len(specs))
	for _, s := range specs {
		t, err := guard.ParseTier(s.name, s.val)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// healthcheckCmd exits 0 if the gateway is up.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatekeeper %s\n", Version)
		},
	}
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
