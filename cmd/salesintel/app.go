package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"SalesIntel/internal/agent"
	"SalesIntel/internal/auth"
	"SalesIntel/internal/config"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/knowledge"
	"SalesIntel/internal/llm"
	"SalesIntel/internal/llm/anthropic"
	"SalesIntel/internal/llm/offline"
	"SalesIntel/internal/llm/openai"
	"SalesIntel/internal/llm/pythonbridge"
	"SalesIntel/internal/mailer"
	"SalesIntel/internal/observability/alerting"
	"SalesIntel/internal/observability/metrics"
	"SalesIntel/internal/pipeline"
	"SalesIntel/internal/report"
	"SalesIntel/internal/search"
	"SalesIntel/internal/storage/mysql"
	"SalesIntel/internal/task"
	"SalesIntel/internal/tools"
	"SalesIntel/pkg/logger"
)

// app 汇集一次进程生命周期内装配好的组件。
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	metrics   *metrics.Collector
	knowledge *knowledge.Engine
	sender    *mailer.SMTPSender
	history   mysql.ReportRepository
	runner    *pipeline.Runner
	closers   []func() error
}

// newApp 根据配置装配知识库、检索、模型、工具、Crew 与报告链路。
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.Named("salesintel"), metrics: metrics.New()}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, xerrors.Wrapf(xerrors.CodeInitializationFailure, err, "create data dir %s", cfg.Runtime.DataDir)
	}

	a.knowledge = knowledge.New(
		knowledge.Load(cfg.Knowledge.Path, logger.Named("knowledge")),
		knowledge.WithIndustryPriority(cfg.Knowledge.IndustryPriority),
		knowledge.WithObserver(func(r knowledge.Result) { a.metrics.ObserveLookup(r.Tier.String()) }),
	)

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(tools.WithObserver(a.metrics.ObserveTool))
	if err := registry.Register(
		tools.Knowledge{Engine: a.knowledge},
		tools.Research{Searcher: createSearcher(cfg.Search)},
		tools.Market{},
		tools.SentimentAnalyzer{},
		tools.Strategy{},
		tools.Communication{},
	); err != nil {
		return nil, err
	}

	members := pipeline.NewAgents(llmClient, registry, agent.WithLLMTimeout(cfg.LLM.Timeout()))
	crew, err := pipeline.NewCrew(pipeline.DefaultStages(), members, pipeline.WithStageObserver(a.metrics.ObserveStage))
	if err != nil {
		return nil, err
	}

	if cfg.Mail.Enabled {
		settings, err := mailer.SettingsFromConfig(cfg.Mail)
		if err != nil {
			return nil, err
		}
		a.sender = mailer.NewSMTPSender(settings)
	}

	if a.history, err = createHistory(ctx, cfg, a); err != nil {
		return nil, err
	}

	runnerOpts := []pipeline.RunnerOption{
		pipeline.WithHistory(a.history),
		pipeline.WithDefaultRecipients(cfg.Mail.Recipients),
	}
	if a.sender != nil {
		runnerOpts = append(runnerOpts, pipeline.WithSender(a.sender))
	}
	a.runner = pipeline.NewRunner(crew, report.NewWriter(cfg.Report.OutputDir), runnerOpts...)

	a.log.Info("components initialised",
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("search_provider", cfg.Search.Provider),
		slog.Int("knowledge_topics", a.knowledge.Len()),
		slog.Bool("mail_enabled", a.sender != nil))
	return a, nil
}

// Close 逆序释放所有已打开的资源。
func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "offline":
		return offline.NewClient(), nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.OpenAI.APIKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			MaxTokens:   cfg.LLM.OpenAI.MaxTokens,
			JSONMode:    cfg.LLM.OpenAI.JSONMode,
			Timeout:     cfg.LLM.OpenAI.Timeout(),
		})
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.LLM.Anthropic.APIKey,
			BaseURL:   cfg.LLM.Anthropic.BaseURL,
			Model:     cfg.LLM.Anthropic.Model,
			MaxTokens: cfg.LLM.Anthropic.MaxTokens,
		})
	case "python_bridge":
		baseDir := filepath.Dir(cfg.Knowledge.Path)
		script := pythonbridge.ResolveScriptPath(baseDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, script, cfg.LLM.Python.WorkingDir)
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("unsupported llm provider %q", cfg.LLM.Provider))
	}
}

func createSearcher(cfg config.SearchConfig) search.Searcher {
	if cfg.Provider == "none" {
		return nil
	}
	ddg := search.NewDuckDuckGo(search.DuckDuckGoConfig{
		Endpoint:   cfg.Endpoint,
		UserAgent:  cfg.UserAgent,
		MaxResults: cfg.MaxResults,
		Timeout:    cfg.Timeout(),
	})
	if cfg.CacheSize <= 0 {
		return ddg
	}
	return search.NewCached(ddg, cfg.CacheSize, cfg.CacheTTL())
}

func createHistory(ctx context.Context, cfg *config.Config, a *app) (mysql.ReportRepository, error) {
	switch cfg.Storage.Reports.Driver {
	case "", "memory":
		return mysql.NewMemoryReportRepository(cfg.Runtime.DataDir)
	case "mysql":
		repo, err := mysql.NewSQLReportRepository(ctx, mysqlConfig(cfg.Storage.TaskStore))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("unsupported report store driver %q", cfg.Storage.Reports.Driver))
	}
}

func mysqlConfig(cfg config.TaskStoreConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.ConnMaxIdleTime(),
	}
}

// newTaskBackend 构造任务存储与队列，serve 命令使用。
func (a *app) newTaskBackend(ctx context.Context) (task.Store, task.Queue, error) {
	cfg := a.cfg
	var store task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		store = task.NewMemoryStore()
	case "mysql":
		s, err := task.NewMySQLStore(ctx, task.MySQLStoreConfig{
			DSN:             cfg.Storage.TaskStore.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.TaskStore.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.Storage.TaskStore.ConnMaxIdleTime(),
		})
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		return nil, nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("unsupported task store driver %q", cfg.Storage.TaskStore.Driver))
	}

	var queue task.Queue
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		queue = task.NewMemoryQueue(cfg.TaskQueue.Buffer)
	case "redis":
		q, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: secondsToDuration(cfg.TaskQueue.Redis.BlockWaitSeconds),
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	default:
		_ = store.Close()
		return nil, nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("unsupported task queue driver %q", cfg.TaskQueue.Driver))
	}
	return store, queue, nil
}

// newAlertDispatcher 始终写审计日志，邮件告警在配置启用时追加。
func (a *app) newAlertDispatcher() alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Audit()}}
	if a.cfg.Alerting.Enabled && a.sender != nil {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender:        a.sender,
			To:            a.cfg.Alerting.Recipients,
			SubjectPrefix: "[SalesIntel] ",
		})
	}
	return alerting.NewFanout(notifiers...)
}

func (a *app) newAuthService() (*auth.Service, error) {
	keys := make([]auth.Key, 0, len(a.cfg.Auth.Keys))
	for _, k := range a.cfg.Auth.Keys {
		keys = append(keys, auth.Key{Name: k.Name, Secret: k.Key, Permissions: k.Permissions})
	}
	return auth.NewService(auth.Config{Enabled: a.cfg.Auth.Enabled, Keys: keys}, nil)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
