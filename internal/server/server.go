// Package server wires the cache, durable medium, rate limiter, stats and
// admin API from a Config and owns their lifecycle.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/admin"
	"github.com/wudi/cachelayer/internal/cache"
	"github.com/wudi/cachelayer/internal/config"
	"github.com/wudi/cachelayer/internal/durable"
	"github.com/wudi/cachelayer/internal/errors"
	"github.com/wudi/cachelayer/internal/logging"
	"github.com/wudi/cachelayer/internal/ratelimit"
	"github.com/wudi/cachelayer/internal/stats"
	"github.com/wudi/cachelayer/internal/tracing"
)

// Server owns every long-lived component.
type Server struct {
	configPath string
	startTime  time.Time

	mu     sync.Mutex // guards config
	config *config.Config

	tracer       *tracing.Tracer
	store        *cache.Store[json.RawMessage]
	durable      *durable.Adapter
	local        *ratelimit.FixedWindow
	distributed  *ratelimit.RedisFixedWindow
	limiter      ratelimit.Checker
	collector    *stats.Collector
	registry     *prometheus.Registry
	adminMetrics *admin.RequestMetrics
	health       map[string]admin.HealthCheck
	closers      []io.Closer
	adminServer  *http.Server
	adminAddr    net.Addr
	watcher      *config.Watcher
	shutdownOnce sync.Once
}

// NewServer builds every component from cfg. configPath is watched for
// changes once Start runs; pass "" to disable watching.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	s := &Server{
		config:     cfg,
		configPath: configPath,
		startTime:  time.Now(),
		health:     make(map[string]admin.HealthCheck),
	}

	tracer, err := tracing.New(cfg.Tracing.TracerOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.tracer = tracer
	if tracer.IsEnabled() {
		logging.Info("Tracing enabled",
			zap.String("endpoint", cfg.Tracing.Endpoint),
			zap.Float64("sample_rate", cfg.Tracing.SampleRate),
		)
	}

	if err := s.initDurable(); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("failed to initialize durable cache: %w", err)
	}
	if err := s.initStore(); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	if err := s.initLimiter(); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	s.collector = stats.New(
		[]stats.CacheSource{s.store},
		[]stats.LimiterSource{s.limiterStats()},
	)
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		s.collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.adminMetrics = admin.NewRequestMetrics(s.registry)

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      s.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// initDurable opens the configured medium. BackendNone leaves s.durable nil.
func (s *Server) initDurable() error {
	dc := s.config.Cache.Durable
	ctx := context.Background()

	var kv durable.KV
	switch dc.Backend {
	case "", config.BackendNone:
		return nil
	case config.BackendMemory:
		m, err := durable.NewMemoryKV(dc.Memory.MaxEntries, dc.Memory.MaxItemBytes)
		if err != nil {
			return err
		}
		kv = m
	case config.BackendRedis:
		client, err := durable.ConnectRedis(ctx, redisOptions(dc.Redis), dc.Redis.DialTimeout)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, client)
		s.health["durable_redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		kv = durable.NewRedisKV(client, dc.Redis.KeyTTL)
	case config.BackendSQLite:
		db, err := durable.OpenSQLite(ctx, dc.SQLite.Path)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, db)
		s.health["durable_sqlite"] = db.Ping
		kv = db
	default:
		return fmt.Errorf("unknown durable backend %q", dc.Backend)
	}

	adapter, err := durable.New(kv, durable.Config{
		Prefix:  dc.Prefix,
		TTL:     dc.TTL,
		Timeout: dc.Timeout,
	})
	if err != nil {
		return err
	}
	s.durable = adapter

	logging.Info("Durable cache enabled",
		zap.String("backend", dc.Backend),
		zap.String("prefix", dc.Prefix),
	)
	return nil
}

func redisOptions(rc config.RedisConfig) durable.RedisConfig {
	return durable.RedisConfig{
		Address:  rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
		KeyTTL:   rc.KeyTTL,
	}
}

func (s *Server) initStore() error {
	opts := []cache.Option[json.RawMessage]{
		cache.WithName[json.RawMessage]("default"),
		cache.WithOnExpire(func(key string, _ json.RawMessage) {
			logging.Debug("cache entry expired", zap.String("key", key))
		}),
	}
	if s.durable != nil {
		opts = append(opts, cache.WithMirror[json.RawMessage](s.durable))
	}

	store, err := cache.New[json.RawMessage](s.config.Cache.StoreConfig(), opts...)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

func (s *Server) initLimiter() error {
	rc := s.config.RateLimit
	if rc.Mode == config.ModeDistributed {
		client, err := durable.ConnectRedis(context.Background(), redisOptions(rc.Redis), rc.Redis.DialTimeout)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, client)
		s.health["ratelimit_redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		rl, err := ratelimit.NewRedisFixedWindow(ratelimit.RedisConfig{
			Client:      client,
			Prefix:      rc.Prefix,
			MaxRequests: rc.MaxRequests,
			Window:      rc.Window,
		})
		if err != nil {
			return err
		}
		s.distributed = rl
		s.limiter = rl
		return nil
	}

	fw, err := ratelimit.NewFixedWindow(rc.LimiterConfig())
	if err != nil {
		return err
	}
	s.local = fw
	s.limiter = fw
	s.closers = append(s.closers, fw)
	return nil
}

func (s *Server) limiterStats() stats.LimiterSource {
	if s.distributed != nil {
		return s.distributed
	}
	return s.local
}

// resetLimit clears a limiter window for either limiter flavour.
func (s *Server) resetLimit(ctx context.Context, id string) (bool, error) {
	if s.distributed != nil {
		existed, err := s.distributed.Reset(ctx, id)
		if err != nil {
			return false, errors.Wrap(err, http.StatusServiceUnavailable, "Service Unavailable").
				WithDetails("rate limit store unreachable")
		}
		return existed, nil
	}
	return s.local.Reset(id), nil
}

// Handler returns the admin API handler.
func (s *Server) Handler() http.Handler {
	cfg := admin.Config{
		Stats:    s.collector,
		Gatherer: s.registry,
		Cache:    s.store,
		Limiter:  s.limiter,
		Reset:    s.resetLimit,
		ConfigView: func() any {
			return config.Redacted(s.Config())
		},
		HealthChecks: s.health,
		Metrics:      s.adminMetrics,
	}
	if s.durable != nil {
		cfg.Durable = s.durable
	}
	traced := s.tracer.Middleware()
	current := s.Config()
	if current.Admin.RateLimit {
		limited := ratelimit.Middleware(s.limiter, ratelimit.BuildKeyFunc(current.RateLimit.Key))
		cfg.Middleware = func(next http.Handler) http.Handler {
			return traced(limited(next))
		}
	} else {
		cfg.Middleware = traced
	}
	return admin.NewHandler(cfg)
}

// Store returns the cache store.
func (s *Server) Store() *cache.Store[json.RawMessage] {
	return s.store
}

// Limiter returns the active rate limiter.
func (s *Server) Limiter() ratelimit.Checker {
	return s.limiter
}

// Stats returns the stats collector.
func (s *Server) Stats() *stats.Collector {
	return s.collector
}

// AdminAddr returns the admin listener address once Start has run.
func (s *Server) AdminAddr() net.Addr {
	return s.adminAddr
}

// Start opens the admin listener and starts the config watcher.
func (s *Server) Start() error {
	if s.adminServer != nil {
		ln, err := net.Listen("tcp", s.adminServer.Addr)
		if err != nil {
			return fmt.Errorf("admin server listen: %w", err)
		}
		s.adminAddr = ln.Addr()
		go func() {
			logging.Info("Starting admin server", zap.String("address", ln.Addr().String()))
			if err := s.adminServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logging.Error("Admin server error", zap.Error(err))
			}
		}()
	}

	if s.configPath != "" {
		w, err := config.NewWatcher(s.configPath)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		w.OnChange(s.ApplyConfig)
		if err := w.Start(); err != nil {
			w.Stop()
			return fmt.Errorf("config watcher: %w", err)
		}
		s.watcher = w
	}
	return nil
}

// Run starts the server and handles graceful shutdown.
// SIGHUP triggers a config reload; SIGINT/SIGTERM triggers shutdown.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(quit)

	for sig := range quit {
		switch sig {
		case syscall.SIGHUP:
			if err := s.ReloadConfig(); err != nil {
				logging.Error("Config reload failed", zap.Error(err))
			}
		default:
			logging.Info("Shutting down gracefully...")
			return s.Shutdown(30 * time.Second)
		}
	}
	return nil
}

// ReloadConfig reads the config file again and applies it.
func (s *Server) ReloadConfig() error {
	if s.configPath == "" {
		return stderrors.New("no config file to reload")
	}
	cfg, err := config.NewLoader().Load(s.configPath)
	if err != nil {
		return err
	}
	s.ApplyConfig(cfg)
	return nil
}

// ApplyConfig hot-applies the settings that can change at runtime: rate
// limits and logging. Other changes are logged and need a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	prev := s.config
	s.config = cfg
	s.mu.Unlock()

	if cfg.Logging != prev.Logging {
		logger, err := logging.NewWithOptions(cfg.Logging.LoggerOptions())
		if err != nil {
			logging.Error("Failed to rebuild logger", zap.Error(err))
		} else {
			old := logging.Global()
			logging.SetGlobal(logger)
			old.Sync()
			logging.Info("Logger reconfigured", zap.String("level", cfg.Logging.Level))
		}
	}

	rl, prevRL := cfg.RateLimit, prev.RateLimit
	if rl.MaxRequests != prevRL.MaxRequests || rl.Window != prevRL.Window {
		if s.local != nil {
			if err := s.local.Reconfigure(rl.MaxRequests, rl.Window); err != nil {
				logging.Error("Failed to apply rate limits", zap.Error(err))
			}
		} else {
			logging.Warn("Distributed rate limits changed, restart to apply")
		}
	}

	if cfg.Cache != prev.Cache || rl.Mode != prevRL.Mode || cfg.Admin != prev.Admin {
		logging.Warn("Cache, durable, rate limit mode or admin settings changed, restart to apply")
	}
}

// Config returns the most recently applied configuration.
func (s *Server) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Shutdown gracefully shuts down the admin server and closes every component.
func (s *Server) Shutdown(timeout time.Duration) error {
	var err error
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.adminServer != nil {
			if e := s.adminServer.Shutdown(ctx); e != nil {
				logging.Error("Admin server shutdown error", zap.Error(e))
				err = e
			}
		}
		s.closeAll()
	})
	return err
}

func (s *Server) closeAll() {
	if s.store != nil {
		s.store.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			logging.Warn("Close error", zap.Error(err))
		}
	}
	s.closers = nil
	if s.tracer != nil {
		if err := s.tracer.Close(); err != nil {
			logging.Warn("Tracer shutdown error", zap.Error(err))
		}
	}
}
