package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peerplot/peerplot/handlers"
	"github.com/peerplot/peerplot/internal/config"
	"github.com/peerplot/peerplot/internal/database"
	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/internal/oidc"
	"github.com/peerplot/peerplot/internal/peersync"
	"github.com/peerplot/peerplot/internal/storage"
	"github.com/peerplot/peerplot/internal/story"
	storyhandler "github.com/peerplot/peerplot/internal/story/handler"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/metrics"
	"github.com/peerplot/peerplot/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL is read again from config below; this covers config errors
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	logger.Infof("config loaded: store=%s keycloak=%v redis=%v sync=%v", cfg.Store.Backend, cfg.Keycloak.URL != "", cfg.Redis.Host != "", cfg.Sync.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open %s store: %v", cfg.Store.Backend, err)
	}
	defer store.Close()
	logger.Infof("document store ready: backend=%s peer=%s", cfg.Store.Backend, store.PeerID())

	var opts []story.Option
	if mcfg := storage.LoadMinIOConfig(); mcfg.Enabled() {
		objects, err := storage.NewMinIOStorage(ctx, mcfg)
		if err != nil {
			logger.Warnf("archive export disabled: %v", err)
		} else {
			opts = append(opts, story.WithExporter(storage.NewArchiveExporter(objects)))
			logger.Infof("exporting archives to bucket %s", mcfg.Bucket)
		}
	}
	svc := story.NewService(store, opts...)

	var rdb *redis.Client
	if cfg.Redis.Host != "" && cfg.RateLimit.UseRedis {
		rdb, err = database.ConnectRedis(ctx, cfg.Redis.Host+":"+cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, 5*time.Second)
		if err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s), using in-memory rate limiting: %v", cfg.Redis.Host, cfg.Redis.Port, err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}
	rateLimit := func() gin.HandlerFunc {
		if rdb != nil {
			return middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
		}
		return middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	var apiMiddleware []gin.HandlerFunc
	verifier, err := oidc.FromConfig(ctx, cfg.Keycloak)
	switch {
	case errors.Is(err, oidc.ErrNotConfigured):
		logger.Warnf("OIDC not configured: story API is unauthenticated")
	case err != nil:
		logger.Fatalf("failed to initialize OIDC verifier: %v", err)
	default:
		apiMiddleware = append(apiMiddleware, middleware.AuthMiddleware(verifier))
	}
	if cfg.RateLimit.Enabled {
		apiMiddleware = append(apiMiddleware, rateLimit())
	}

	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(cors, gin.Logger(), gin.Recovery())

	handlers.RegisterHealth(r, startTime, map[string]handlers.ReadinessCheck{
		"store": func(ctx context.Context) error {
			_, err := store.Get(ctx, story.StoryKey)
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			return err
		},
		"redis": func(ctx context.Context) error {
			if rdb == nil {
				return nil
			}
			return rdb.Ping(ctx).Err()
		},
	})
	handlers.RegisterSwagger(r)
	storyhandler.RegisterStoryRoutes(r, svc, apiMiddleware...)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Sync.Enabled {
		var syncOpts []peersync.Option
		syncOpts = append(syncOpts,
			peersync.WithPeers(cfg.Sync.Peers...),
			peersync.WithInterval(cfg.Sync.Interval),
			peersync.WithListenAddr(cfg.Sync.ListenAddr),
		)
		if cfg.RateLimit.Enabled {
			syncOpts = append(syncOpts, peersync.WithMiddleware(rateLimit()))
		}
		rep := peersync.NewReplicator(store, story.Resolve, syncOpts...)
		peersync.NewBootstrap(peersync.FileSourceFromConfig(cfg.Sync), rep.Run).Start(ctx)
		logger.Infof("sync enabled: peer=%s listen=%s peers=%v", cfg.Sync.PeerID, cfg.Sync.ListenAddr, cfg.Sync.Peers)
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	// no WriteTimeout: /api/story/events streams for as long as the client stays
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	logger.Infof("Starting peerplot on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server failed: %v", err)
	}
	logger.Infof("server stopped")
}

// cors is a permissive CORS policy for the web client during development.
func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
	c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusOK)
		return
	}
	c.Next()
}
