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

	"matchlive/internal/backend/comments"
	"matchlive/internal/backend/player"
	"matchlive/internal/backend/stream"
	"matchlive/internal/live"
	"matchlive/internal/platform/config"
	"matchlive/internal/platform/logger"
	"matchlive/internal/platform/metrics"
	"matchlive/internal/session"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := newCommentBackend(ctx, cfg, log)
	if err != nil {
		log.Error("comment backend unavailable", "backend", cfg.CommentBackend, "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	httpClient := &http.Client{Timeout: cfg.ResolveTimeout}
	resolverOpts := []stream.Option{stream.WithLogger(log)}
	if cfg.ProbeStreams {
		resolverOpts = append(resolverOpts, stream.WithProbe(httpClient))
	}
	resolver, err := stream.NewTemplateResolver(cfg.StreamURLTemplate, resolverOpts...)
	if err != nil {
		log.Error("invalid stream url template", "template", cfg.StreamURLTemplate, "error", err)
		os.Exit(1)
	}

	svc := live.NewService(live.Config{
		Resolver:       resolver,
		Comments:       backend,
		Players:        player.Factory(httpClient, log),
		PageSize:       cfg.CommentPageSize,
		ResolveTimeout: cfg.ResolveTimeout,
		CommentTimeout: cfg.CommentTimeout,
		HideDelay:      cfg.ControlsHideDelay,
		Logger:         log,
		Metrics:        met,
	}, live.NewRegistry())
	h := live.NewHandler(svc, log)
	sweeper := live.NewSweeper(svc, cfg.SessionIdleTimeout, cfg.SweepInterval, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Register(r, cfg.IntentRateLimit)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// event streams are hijacked connections; releasing the sessions ends them
		svc.Shutdown()
		return err
	})

	log.Info("server starting",
		"port", cfg.Port,
		"comment_backend", cfg.CommentBackend,
		"stream_probe", cfg.ProbeStreams,
		"log_level", cfg.LogLevel,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func newCommentBackend(ctx context.Context, cfg config.Settings, log *slog.Logger) (session.CommentBackend, func(), error) {
	switch cfg.CommentBackend {
	case "redis":
		client, err := comments.NewRedisClient(ctx, comments.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		store := comments.NewRedisStore(client, "matchlive", log)
		return store, func() { _ = store.Close() }, nil
	case "memory", "":
		return comments.NewMemoryStore(log), func() {}, nil
	default:
		return nil, nil, errors.New("unknown comment backend " + cfg.CommentBackend)
	}
}
