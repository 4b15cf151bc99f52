// Package app wires configuration into a running document service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gogotex/document-service/internal/cache"
	"github.com/gogotex/document-service/internal/config"
	"github.com/gogotex/document-service/internal/database"
	"github.com/gogotex/document-service/internal/document/concurrency"
	"github.com/gogotex/document-service/internal/document/handler"
	"github.com/gogotex/document-service/internal/document/index"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/internal/document/service"
	"github.com/gogotex/document-service/internal/notify"
	"github.com/gogotex/document-service/pkg/logger"
	"github.com/gogotex/document-service/pkg/metrics"
	"github.com/gogotex/document-service/pkg/middleware"
)

const connectTimeout = 10 * time.Second

// App holds the wired components of one service instance.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	Store    repository.Store
	Index    *index.Index
	Service  *service.DocumentService
	Router   *gin.Engine
	Registry *prometheus.Registry

	redis   *redis.Client
	cache   cache.Cache
	cleanup []func()
}

// Option customizes New. Tests use it to inject a store or verifier.
type Option func(*options)

type options struct {
	store    repository.Store
	verifier middleware.Verifier
	redis    *redis.Client
}

// WithStore replaces the configured backend.
func WithStore(s repository.Store) Option { return func(o *options) { o.store = s } }

// WithVerifier replaces the verifier derived from cfg.Auth.
func WithVerifier(v middleware.Verifier) Option { return func(o *options) { o.verifier = v } }

// WithRedis uses an existing client instead of dialing cfg.Redis.
func WithRedis(c *redis.Client) Option { return func(o *options) { o.redis = c } }

// New connects every dependency and builds the router. The index is not
// rebuilt yet; call Rebuild or Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, log: logger.Named("app"), Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(a.Registry)

	a.redis = o.redis
	if a.redis == nil && cfg.Redis.Addr() != "" {
		a.redis, err = database.ConnectRedis(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, connectTimeout)
		if err != nil {
			return nil, err
		}
		client := a.redis
		a.cleanup = append(a.cleanup, func() { client.Close() })
	}

	a.Store = o.store
	if a.Store == nil {
		store, closeStore, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
		}
		a.Store = store
		a.cleanup = append(a.cleanup, closeStore)
	}
	a.log.Info("store opened", logger.Backend(cfg.Storage.Backend))

	var rdb cache.RedisClient
	if a.redis != nil {
		rdb = a.redis
	}
	c, err := cache.New(cache.Config{Driver: cfg.Cache.Driver, DefaultTTL: cfg.Cache.RevisionTTL, Prefix: "docsvc"}, rdb)
	if err != nil {
		return nil, err
	}
	a.cache = c
	a.cleanup = append(a.cleanup, func() { c.Close() })

	a.Index = index.New(index.WithLogger(logger.Named("index")))
	ctrl := concurrency.NewController(a.Store, a.Index, concurrency.WithLogger(logger.Named("concurrency")))
	a.Service = service.New(a.Store, a.Index, ctrl,
		service.WithCache(c, cfg.Cache.RevisionTTL, cfg.Cache.FilterTTL),
		service.WithNotifier(a.notifier()),
		service.WithRules(cfg.Documents.Rules()),
		service.WithLogger(logger.Named("service")),
	)

	ver := o.verifier
	if ver == nil {
		if ver, err = NewVerifier(ctx, cfg); err != nil {
			return nil, err
		}
	}
	a.Router = a.router(ver)
	return a, nil
}

func (a *App) notifier() notify.Notifier {
	var sinks notify.Multi
	if a.cfg.Notification.URL != "" {
		sinks = append(sinks, notify.Sink{Name: "http", Notifier: notify.NewHTTPNotifier(a.cfg.Notification.URL, a.cfg.Notification.Timeout)})
	}
	if a.redis != nil && a.cfg.Notification.RedisChannel != "" {
		sinks = append(sinks, notify.Sink{Name: "redis", Notifier: notify.NewRedisNotifier(a.redis, a.cfg.Notification.RedisChannel)})
	}
	if len(sinks) == 0 {
		return notify.Nop{}
	}
	return sinks
}

func (a *App) router(ver middleware.Verifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger.Named("http")), cors)

	handler.RegisterOps(r, a.Index, a.Registry)
	handler.RegisterSwagger(r)

	var mw []gin.HandlerFunc
	if rl := a.cfg.RateLimit; rl.Enabled {
		if rl.Driver == "redis" && a.redis != nil {
			mw = append(mw, middleware.RedisRateLimitMiddleware(a.redis, rl.RPS, rl.Burst, rl.Window))
		} else {
			mw = append(mw, middleware.RateLimitMiddleware(rl.RPS, rl.Burst))
		}
	}
	if ver != nil {
		var revoked middleware.Revocations
		if a.cfg.Auth.RevocationList && a.redis != nil {
			revoked = middleware.NewRedisRevocations(a.redis, "")
		}
		mw = append(mw, middleware.AuthMiddleware(ver, revoked))
	}
	handler.RegisterDocumentRoutes(r, a.Service, mw...)
	if insp, ok := a.cache.(cache.Inspector); ok {
		handler.RegisterCacheRoutes(r, insp, mw...)
	}
	return r
}

// Lightweight CORS for browser clients; OPTIONS is answered directly.
func cors(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, If-Match, X-Request-ID")
	h.Set("Access-Control-Expose-Headers", "ETag, Location, Retry-After, X-Request-ID")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// Rebuild loads the index from the store, retrying with backoff until it
// succeeds or ctx ends.
func (a *App) Rebuild(ctx context.Context) error {
	wait := 500 * time.Millisecond
	for {
		err := a.Index.Rebuild(ctx, a.Store)
		if err == nil || errors.Is(err, index.ErrAlreadyRebuilt) {
			return nil
		}
		a.log.Warn("index rebuild failed; retrying", logger.Err(err), zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, 30*time.Second)
	}
}

// Run serves HTTP until ctx is cancelled, rebuilding the index in the
// background. Requests that need the index get 503 until it is ready.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      a.Router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Rebuild(ctx) })
	g.Go(func() error {
		a.log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases everything New acquired, in reverse order.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
