// Package gateway wires the admission middleware chain, the admin API,
// and the observability servers into one supervised run loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/workhubhq/gatekeeper/internal/admin"
	"github.com/workhubhq/gatekeeper/internal/authctx"
	"github.com/workhubhq/gatekeeper/internal/config"
	"github.com/workhubhq/gatekeeper/internal/counter"
	"github.com/workhubhq/gatekeeper/internal/guard"
)

// Pinger reports backend reachability; satisfied by the rule store and
// the Redis counter store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gateway owns the HTTP listeners and background workers.
type Gateway struct {
	cfg     *config.Config
	guard   *guard.Guard
	admin   *admin.Handler
	janitor *counter.Janitor
	readies []Pinger
	next    http.Handler
	log     zerolog.Logger
}

// New builds a Gateway. next is the business router the admission
// middleware fronts; readies are pinged by the readiness endpoint.
func New(cfg *config.Config, g *guard.Guard, adminH *admin.Handler,
	janitor *counter.Janitor, next http.Handler, readies []Pinger, log zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		guard:   g,
		admin:   adminH,
		janitor: janitor,
		readies: readies,
		next:    next,
		log:     log,
	}
}

// Run starts all servers and blocks until ctx is cancelled or a fatal
// error occurs.
func (gw *Gateway) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gw.serveGateway(gctx)
	})

	if gw.cfg.MetricsEnabled {
		g.Go(func() error {
			return gw.serveMetrics(gctx)
		})
	}

	g.Go(func() error {
		return gw.serveHealth(gctx)
	})

	if gw.janitor != nil {
		g.Go(func() error {
			return gw.janitor.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// router assembles the middleware chain: auth context first, then the
// admission guard, then the admin surface and the business handler.
func (gw *Gateway) router() http.Handler {
	r := chi.NewRouter()
	r.Use(authctx.Middleware())
	r.Use(guard.Middleware(gw.guard, gw.cfg.TrustForwardedFor))

	r.Route("/rate-limits", func(r chi.Router) {
		r.Use(authctx.RequireRole(gw.cfg.AdminRole))
		r.Mount("/", gw.admin.Routes())
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		gw.next.ServeHTTP(w, req)
	})
	return r
}

func (gw *Gateway) serveGateway(ctx context.Context) error {
	srv := &http.Server{
		Addr:              gw.cfg.ListenAddr,
		Handler:           gw.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	gw.log.Info().Str("addr", gw.cfg.ListenAddr).Msg("gateway listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// serveMetrics runs the Prometheus HTTP server.
func (gw *Gateway) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    gw.cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	gw.log.Info().Str("addr", gw.cfg.MetricsAddr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// serveHealth runs the health endpoints. Liveness is unconditional;
// readiness pings the rule store and the counter backend.
func (gw *Gateway) serveHealth(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, p := range gw.readies {
			if err := p.Ping(r.Context()); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:    gw.cfg.HealthAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	gw.log.Info().Str("addr", gw.cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
