package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/BaSui01/structflow/config"
	"github.com/BaSui01/structflow/internal/cache"
	"github.com/BaSui01/structflow/internal/database"
	"github.com/BaSui01/structflow/internal/metrics"
	"github.com/BaSui01/structflow/internal/telemetry"
	"github.com/BaSui01/structflow/llm"
	"github.com/BaSui01/structflow/llm/observability"
	"github.com/BaSui01/structflow/llm/providers/openaicompat"
	"github.com/BaSui01/structflow/llm/retry"
	"github.com/BaSui01/structflow/prompt"
	"github.com/BaSui01/structflow/structured"
)

const tracerName = "github.com/BaSui01/structflow/structured"

// app 是组合根，按配置构建引擎和它的协作组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	otel      *telemetry.Providers
	provider  llm.Provider
	local     *prompt.FileSource
	prompts   *prompt.Manager
	cache     *cache.Manager
	registry  *prompt.RedisRegistry
	watcher   *config.FileWatcher
	collector *metrics.Collector
	pool      *database.PoolManager
	tracer    *observability.Tracer
	invoker   *structured.Invoker
}

// appDeps 允许测试替换外部依赖
type appDeps struct {
	provider   llm.Provider
	registerer prometheus.Registerer
	store      prompt.Store
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps appDeps) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, logger: logger}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		otelProviders = &telemetry.Providers{}
	}
	a.otel = otelProviders

	if err := a.initProvider(deps.provider); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.initPrompts(ctx, deps.store); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.collector = metrics.NewCollector("structflow", deps.registerer, logger)

	var exporter observability.Exporter
	if cfg.Database.Enabled {
		gormExporter, err := a.initAudit()
		if err != nil {
			// 审计是可选的，数据库不可用时只记录尝试到 span
			logger.Warn("audit database not available, attempt log disabled", zap.Error(err))
		} else {
			exporter = gormExporter
		}
	}
	a.tracer = observability.NewTracer(otel.Tracer(tracerName), exporter, logger)

	validator, err := structured.NewCompiledValidator(cfg.Structured.ValidatorCacheSize)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	opts := []structured.Option{
		structured.WithValidator(validator),
		structured.WithTracer(structured.Tracers(a.tracer, a.collector)),
		structured.WithLogger(logger),
		structured.WithMaxRetries(cfg.Structured.MaxRetries),
	}
	if !cfg.Structured.Repair {
		opts = append(opts, structured.WithRepairer(structured.RepairFunc(func(s string) string { return s })))
	}
	a.invoker = structured.NewInvoker(a.prompts, opts...)
	return a, nil
}

func (a *app) initProvider(injected llm.Provider) error {
	if injected != nil {
		a.provider = injected
		return nil
	}
	cfg := a.cfg.LLM
	p, err := openaicompat.NewFromPreset(cfg.Provider, openaicompat.Options{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	wrapped := retry.WrapProvider(p, policy, a.logger)

	m, err := observability.NewMetrics()
	if err != nil {
		a.logger.Warn("provider metrics disabled", zap.Error(err))
		a.provider = wrapped
		return nil
	}
	a.provider = observability.Instrument(wrapped, m, observability.NewCostCalculator())
	return nil
}

func (a *app) initPrompts(ctx context.Context, store prompt.Store) error {
	cfg := a.cfg.Prompts
	local, err := prompt.NewFileSource(cfg.Path)
	if err != nil {
		return err
	}
	a.local = local

	opts := []prompt.ManagerOption{prompt.WithLogger(a.logger), prompt.WithPreferRemote(cfg.PreferRemote)}
	if cfg.Remote {
		if store == nil {
			mgr, err := cache.NewManager(cache.Config{
				Addr:         a.cfg.Redis.Addr,
				Password:     a.cfg.Redis.Password,
				DB:           a.cfg.Redis.DB,
				PoolSize:     a.cfg.Redis.PoolSize,
				MinIdleConns: a.cfg.Redis.MinIdleConns,
				DefaultTTL:   a.cfg.Redis.DefaultTTL,
			}, a.logger)
			if err != nil {
				a.logger.Warn("remote prompt registry not available, using local catalogue", zap.Error(err))
			} else {
				a.cache = mgr
				store = mgr
			}
		}
		if store != nil {
			a.registry = prompt.NewRedisRegistry(store, cfg.RemotePrefix, a.logger)
			opts = append(opts, prompt.WithRegistry(a.registry))
		}
	}
	a.prompts = prompt.NewManager(local, opts...)

	if cfg.Watch && cfg.Path != "" {
		w, err := config.NewFileWatcher([]string{cfg.Path}, config.WithWatcherLogger(a.logger))
		if err != nil {
			return fmt.Errorf("watch prompt catalogue: %w", err)
		}
		w.OnChange(func(ev config.FileEvent) {
			if err := local.Reload(); err != nil {
				a.logger.Warn("prompt catalogue reload failed, keeping previous", zap.String("path", ev.Path), zap.Error(err))
				return
			}
			a.logger.Info("prompt catalogue reloaded", zap.String("path", ev.Path), zap.Stringer("op", ev.Op))
		})
		if err := w.Start(ctx); err != nil {
			return err
		}
		a.watcher = w
	}
	return nil
}

func (a *app) initAudit() (*observability.GormExporter, error) {
	cfg := a.cfg.Database
	pool, err := database.Open(cfg.Driver, cfg.DSN(), database.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	exporter, err := observability.NewGormExporter(pool, observability.GormExporterConfig{
		BatchSize:   cfg.BatchSize,
		AutoMigrate: cfg.AutoMigrate,
	}, a.logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	a.pool = pool
	return exporter, nil
}

// newChain 为一次调用构建独立的 Chain，槽位不与其他调用共享
func (a *app) newChain(name string, messages []llm.MessageTemplate) *llm.Chain {
	return llm.NewChain(a.provider, llm.ChainConfig{
		Name:        name,
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Prompt:      messages,
	})
}

// recordDBStats 周期性上报审计库连接池状态，直到 ctx 结束
func (a *app) recordDBStats(ctx context.Context, interval time.Duration) {
	if a.pool == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.collector.RecordDBStats(a.cfg.Database.Driver, a.pool.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// close 按依赖反序释放资源
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Flush(ctx))
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.otel != nil {
		errs = append(errs, a.otel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
