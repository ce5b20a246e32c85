package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search and document API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var done cleanups
			defer done.run()
			h, err := a.buildServer(ctx, &done)
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:      h,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}
			go func() {
				<-ctx.Done()
				slog.Info("shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("server shutdown error", "error", err)
				}
			}()

			slog.Info("search service listening", "addr", server.Addr, "index_dir", a.cfg.Index.Dir)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			slog.Info("search service stopped")
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

// buildServer opens the index and its collaborators and returns the fully
// wrapped HTTP handler. Resources are released through done.
func (a *app) buildServer(ctx context.Context, done *cleanups) (http.Handler, error) {
	sink, ledgerHealth, err := a.serviceSink(ctx, done)
	if err != nil {
		return nil, err
	}

	idx, err := a.openIndex(true, sink)
	if err != nil {
		return nil, err
	}
	done.add(func() { idx.Close() })
	watchCtx, stopWatch := context.WithCancel(ctx)
	done.add(stopWatch)
	go idx.Watch(watchCtx, a.cfg.Index.RefreshInterval)

	var (
		redisClient *pkgredis.Client
		queryCache  *cache.QueryCache
		execCache   executor.Cache
	)
	if a.cfg.Search.CacheEnabled {
		redisClient, err = pkgredis.NewClient(a.cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			done.add(func() { redisClient.Close() })
			queryCache = cache.New(redisClient, a.cfg.Redis, a.metrics)
			execCache = queryCache
			slog.Info("search cache enabled", "addr", a.cfg.Redis.Addr, "ttl", a.cfg.Redis.CacheTTL)
		}
	}

	exec := executor.New(idx, a.cfg.Search, executor.Deps{
		Normalizer: idx.Normalizer(),
		Metrics:    a.metrics,
		Sink:       sink,
		Cache:      execCache,
	})
	h := handler.New(exec, idx, queryCache, a.cfg.Search.MaxResults)

	checker := health.NewChecker()
	checker.Register("index", health.Probe(idx.Health, health.StatusDown))
	var redisPing func(context.Context) error
	if redisClient != nil {
		redisPing = redisClient.Ping
	}
	checker.Register("redis", health.Probe(redisPing, health.StatusDegraded))
	checker.Register("ledger", health.Probe(ledgerHealth, health.StatusDegraded))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.HandlerFor(a.registry))

	var limiter *ratelimit.Limiter
	if a.cfg.Server.RateLimit > 0 {
		limiter = ratelimit.New(a.cfg.Server.RateLimit, a.cfg.Server.RateLimitWindow)
		done.add(limiter.Close)
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(a.cfg.Search.Timeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.Metrics(a.metrics)(chain)
	return chain, nil
}
