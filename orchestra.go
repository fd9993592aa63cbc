// Package orchestra wires the agent registry, the communication bus and the
// workflow engine into a single runtime built from a config.Config.
//
// Usage:
//
//	rt, err := orchestra.New(config.DefaultConfig(), logger)
//	if err != nil { ... }
//	_, _ = rt.RegisterAgent("echo", logic)
//	_ = rt.Start(ctx)
//	defer rt.Stop()
//	exec, err := rt.Execute(ctx, def, input)
package orchestra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/agent/discovery"
	"github.com/BaSui01/orchestra/agent/persistence"
	"github.com/BaSui01/orchestra/api"
	"github.com/BaSui01/orchestra/config"
	"github.com/BaSui01/orchestra/internal/cache"
	"github.com/BaSui01/orchestra/workflow"
)

// Observer receives the runtime events of every component.
// internal/metrics.Collector implements it.
type Observer interface {
	agent.Observer
	discovery.Observer
	collaboration.Observer
	workflow.Observer
}

// Option configures New.
type Option func(*options)

type options struct {
	db       *gorm.DB
	observer Observer
}

// WithDB supplies the connection used by the "sql" execution store.
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithObserver attaches an observer to the agents, registry, bus and engine.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Runtime owns the long-lived orchestration components.
type Runtime struct {
	config *config.Config
	logger *zap.Logger
	obs    Observer

	registry   *discovery.Registry
	bus        *collaboration.Bus
	engine     *workflow.Engine
	executions persistence.ExecutionStore
	messages   persistence.MessageStore
	cache      *cache.Manager

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a runtime. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	rt := &Runtime{
		config: cfg,
		logger: logger.With(zap.String("component", "runtime")),
		obs:    o.observer,
	}
	if err := rt.build(logger, o); err != nil {
		_ = rt.closeStores()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(logger *zap.Logger, o *options) error {
	cfg := rt.config

	if cfg.Registry.MirrorToRedis || cfg.Store.Type == string(persistence.StoreTypeRedis) ||
		(cfg.Bus.ArchiveEnabled && cfg.Store.MessageType == string(persistence.StoreTypeRedis)) {
		cm, err := cache.NewManager(cacheConfig(cfg.Redis), logger)
		if err != nil {
			return fmt.Errorf("init redis cache: %w", err)
		}
		rt.cache = cm
	}

	executions, err := rt.executionStore(o.db)
	if err != nil {
		return fmt.Errorf("init execution store: %w", err)
	}
	rt.executions = executions

	if cfg.Bus.ArchiveEnabled {
		messages, err := rt.messageStore()
		if err != nil {
			return fmt.Errorf("init message store: %w", err)
		}
		rt.messages = messages
	}

	var regOpts []discovery.RegistryOption
	if cfg.Registry.MirrorToRedis {
		regOpts = append(regOpts, discovery.WithHealthStore(
			discovery.NewCacheHealthStore(rt.cache, cfg.Redis.KeyPrefix, cfg.Registry.HealthTTL),
		))
	}
	if rt.obs != nil {
		regOpts = append(regOpts, discovery.WithObserver(rt.obs))
	}
	rt.registry = discovery.NewRegistry(discovery.RegistryConfig{
		HealthCheckInterval: cfg.Registry.HealthCheckInterval,
		ProbeTask:           cfg.Registry.ProbeTask,
		ResetOnRecovery:     cfg.Registry.ResetOnRecovery,
	}, logger, regOpts...)

	var busOpts []collaboration.BusOption
	if rt.messages != nil {
		busOpts = append(busOpts, collaboration.WithArchive(rt.messages))
	}
	if rt.obs != nil {
		busOpts = append(busOpts, collaboration.WithObserver(rt.obs))
	}
	rt.bus = collaboration.NewBus(collaboration.BusConfig{
		BufferSize:     cfg.Bus.BufferSize,
		ArchiveTimeout: cfg.Bus.ArchiveTimeout,
	}, logger, busOpts...)

	engineOpts := []workflow.EngineOption{
		workflow.WithPublisher(rt.bus, cfg.Workflow.ProgressRecipient),
		workflow.WithStore(rt.executions),
		workflow.WithRetention(cfg.Workflow.Retention),
	}
	if rt.obs != nil {
		engineOpts = append(engineOpts, workflow.WithObserver(rt.obs))
	}
	rt.engine = workflow.NewEngine(rt.registry, logger, engineOpts...)
	return nil
}

func cacheConfig(rc config.RedisConfig) cache.Config {
	cc := cache.DefaultConfig()
	cc.Addr = rc.Addr
	cc.Password = rc.Password
	cc.DB = rc.DB
	if rc.PoolSize > 0 {
		cc.PoolSize = rc.PoolSize
	}
	cc.MinIdleConns = rc.MinIdleConns
	return cc
}

func (rt *Runtime) storeConfig(storeType string) persistence.StoreConfig {
	cfg := rt.config
	return persistence.StoreConfig{
		Type: persistence.StoreType(storeType),
		Redis: persistence.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
		Mongo: persistence.MongoStoreConfig{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			Collection:     cfg.Mongo.Collection,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		},
		Cleanup: persistence.CleanupConfig{
			Enabled:            cfg.Store.CleanupEnabled,
			Interval:           cfg.Store.CleanupInterval,
			MessageRetention:   cfg.Store.MessageRetention,
			ExecutionRetention: cfg.Store.ExecutionRetention,
		},
	}
}

func (rt *Runtime) executionStore(db *gorm.DB) (persistence.ExecutionStore, error) {
	sc := rt.storeConfig(rt.config.Store.Type)
	if sc.Type == persistence.StoreTypeRedis {
		// 与健康镜像共享连接池
		return persistence.NewRedisExecutionStoreWithClient(rt.cache.Client(), rt.config.Redis.KeyPrefix), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return persistence.NewExecutionStore(ctx, sc, db)
}

func (rt *Runtime) messageStore() (persistence.MessageStore, error) {
	sc := rt.storeConfig(rt.config.Store.MessageType)
	if sc.Type == persistence.StoreTypeRedis {
		return persistence.NewRedisMessageStoreWithClient(rt.cache.Client(), rt.config.Redis.KeyPrefix), nil
	}
	return persistence.NewMessageStore(sc)
}

// Start launches the bus dispatcher, the health loop and the store cleanup loop.
// Health records mirrored to Redis are restored for already registered agents.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped {
		return errors.New("runtime is stopped")
	}
	if rt.started {
		return nil
	}
	rt.started = true

	if err := rt.registry.Restore(ctx); err != nil {
		rt.logger.Warn("failed to restore health records", zap.Error(err))
	}

	// 后台循环只随 Stop 结束，不受调用方 ctx 生命周期影响
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel

	rt.bus.Start()
	if rt.config.Registry.HealthCheckInterval > 0 {
		rt.registry.Start(loopCtx)
	}
	if rt.config.Store.CleanupEnabled && rt.config.Store.CleanupInterval > 0 {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.cleanupLoop(loopCtx)
		}()
	}

	rt.logger.Info("runtime started",
		zap.Int("agents", len(rt.registry.ListAll())),
		zap.String("execution_store", rt.config.Store.Type),
		zap.Bool("archive", rt.messages != nil),
	)
	return nil
}

// Stop stops every background loop and releases the stores. Safe to call twice.
func (rt *Runtime) Stop() error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	rt.stopped = true
	cancel := rt.cancel
	rt.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	rt.wg.Wait()

	var errs []error
	errs = append(errs, rt.registry.Close())
	rt.bus.Stop()
	errs = append(errs, rt.closeStores())

	rt.logger.Info("runtime stopped")
	return errors.Join(errs...)
}

func (rt *Runtime) closeStores() error {
	var errs []error
	if rt.messages != nil {
		errs = append(errs, rt.messages.Close())
	}
	if rt.executions != nil {
		errs = append(errs, rt.executions.Close())
	}
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	return errors.Join(errs...)
}

func (rt *Runtime) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.config.Store.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.Cleanup(ctx)
		}
	}
}

// Cleanup removes archived messages and terminal executions past their retention.
func (rt *Runtime) Cleanup(ctx context.Context) {
	if rt.config.Store.ExecutionRetention > 0 {
		n, err := rt.executions.Cleanup(ctx, rt.config.Store.ExecutionRetention)
		if err != nil {
			rt.logger.Error("execution cleanup failed", zap.Error(err))
		} else if n > 0 {
			rt.logger.Info("removed expired executions", zap.Int("count", n))
		}
	}
	if rt.messages != nil && rt.config.Store.MessageRetention > 0 {
		n, err := rt.messages.Cleanup(ctx, rt.config.Store.MessageRetention)
		if err != nil {
			rt.logger.Error("message cleanup failed", zap.Error(err))
		} else if n > 0 {
			rt.logger.Info("removed expired messages", zap.Int("count", n))
		}
	}
}

// NewAgent creates an agent using the configured execution defaults.
func (rt *Runtime) NewAgent(name string, logic agent.Logic, capabilities ...string) (*agent.Agent, error) {
	ac := rt.config.Agent
	var opts []agent.Option
	if rt.obs != nil {
		opts = append(opts, agent.WithObserver(rt.obs))
	}
	return agent.New(agent.Identity{
		Name:             name,
		Capabilities:     capabilities,
		Timeout:          ac.Timeout,
		MaxRetries:       ac.MaxRetries,
		RetryBackoff:     ac.RetryBackoff,
		FailureThreshold: ac.FailureThreshold,
	}, logic, rt.logger, opts...)
}

// RegisterAgent creates an agent with NewAgent and registers it.
func (rt *Runtime) RegisterAgent(name string, logic agent.Logic, capabilities ...string) (*agent.Agent, error) {
	a, err := rt.NewAgent(name, logic, capabilities...)
	if err != nil {
		return nil, err
	}
	if err := rt.registry.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Execute runs a workflow definition to completion.
func (rt *Runtime) Execute(ctx context.Context, def *workflow.Definition, input map[string]any) (*workflow.Execution, error) {
	return rt.engine.Execute(ctx, def, input)
}

// Ping checks the stores the runtime depends on.
func (rt *Runtime) Ping(ctx context.Context) error {
	var errs []error
	if err := rt.executions.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("execution store: %w", err))
	}
	if rt.messages != nil {
		if err := rt.messages.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("message store: %w", err))
		}
	}
	if rt.cache != nil {
		if err := rt.cache.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats reports a snapshot of every component. Archive and cache sections
// are present only when those backends are configured; a failing backend
// reports its error in place rather than failing the whole snapshot.
func (rt *Runtime) Stats(ctx context.Context) *api.RuntimeStats {
	stats := &api.RuntimeStats{
		Agents: api.AgentStats{
			Total:   len(rt.registry.ListAll()),
			Healthy: len(rt.registry.ListHealthy()),
		},
		Bus:       api.BusStats{Running: rt.bus.Running(), Pending: rt.bus.Pending()},
		Workflows: api.WorkflowStats{Active: len(rt.engine.Active())},
	}

	if rt.messages != nil {
		archive := &api.ArchiveStats{}
		if ms, err := rt.messages.Stats(ctx); err != nil {
			archive.Error = err.Error()
		} else {
			archive.TotalMessages = ms.TotalMessages
			archive.RecipientCounts = ms.RecipientCounts
			if ms.OldestAge > 0 {
				archive.OldestAge = ms.OldestAge.Round(time.Millisecond).String()
			}
		}
		stats.Archive = archive
	}

	if rt.cache != nil {
		cs := &api.CacheStats{}
		if s, err := rt.cache.GetStats(ctx); err != nil {
			cs.Error = err.Error()
		} else {
			cs.Keys = s.Keys
			cs.Hits = s.Hits
			cs.Misses = s.Misses
			cs.HitRate = s.HitRate()
			cs.UsedMemory = s.UsedMemory
			cs.MaxMemory = s.MaxMemory
			cs.Connections = s.Connections
		}
		stats.Cache = cs
	}
	return stats
}

// Config returns the configuration the runtime was built from.
func (rt *Runtime) Config() *config.Config { return rt.config }

// Registry returns the agent registry.
func (rt *Runtime) Registry() *discovery.Registry { return rt.registry }

// Bus returns the communication bus.
func (rt *Runtime) Bus() *collaboration.Bus { return rt.bus }

// Engine returns the workflow engine.
func (rt *Runtime) Engine() *workflow.Engine { return rt.engine }

// Executions returns the execution store.
func (rt *Runtime) Executions() persistence.ExecutionStore { return rt.executions }

// Messages returns the message archive, nil when archiving is disabled.
func (rt *Runtime) Messages() persistence.MessageStore { return rt.messages }
