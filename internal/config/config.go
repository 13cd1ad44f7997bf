package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	xerrors "SalesIntel/internal/errors"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "SALESINTEL_CONFIG"

// DefaultPath 是未显式指定时使用的配置文件。
var DefaultPath = filepath.Join("configs", "salesintel.yaml")

// Config 描述了 SalesIntel 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	Report    ReportConfig    `yaml:"report"`
	Mail      MailConfig      `yaml:"mail"`
	Storage   StorageConfig   `yaml:"storage"`
	TaskQueue TaskQueueConfig `yaml:"task_queue"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Auth      AuthConfig      `yaml:"auth"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `yaml:"address"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// ReadTimeout 返回读取超时。
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout 返回写入超时。
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// LoggingConfig 对应 pkg/logger 的配置项。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// KnowledgeConfig 指定知识库文件与匹配策略。
type KnowledgeConfig struct {
	Path             string `yaml:"path"`
	IndustryPriority bool   `yaml:"industry_priority"`
}

// SearchConfig 描述网页检索后端。
type SearchConfig struct {
	Provider        string `yaml:"provider"`
	Endpoint        string `yaml:"endpoint"`
	UserAgent       string `yaml:"user_agent"`
	MaxResults      int    `yaml:"max_results"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheSize       int    `yaml:"cache_size"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// Timeout 返回单次检索的超时时间。
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL 返回检索缓存的有效期。
func (c SearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string             `yaml:"provider"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	OpenAI         OpenAIConfig       `yaml:"openai"`
	Anthropic      AnthropicConfig    `yaml:"anthropic"`
	Python         PythonBridgeConfig `yaml:"python_bridge"`
}

// Timeout 返回单次模型调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig 描述兼容 OpenAI Chat Completions 的服务。
type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	JSONMode       bool    `yaml:"json_mode"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout 返回 HTTP 客户端超时。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AnthropicConfig 描述 Anthropic Messages API。
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable"`
	ScriptPath       string `yaml:"script_path"`
	WorkingDir       string `yaml:"working_dir"`
}

// ReportConfig 控制报告输出目录。
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// MailConfig 描述报告投递使用的 SMTP 账户。
type MailConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Address        string   `yaml:"address"`
	Password       string   `yaml:"password"`
	PasswordEnv    string   `yaml:"password_env"`
	Server         string   `yaml:"server"`
	Port           string   `yaml:"port"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Recipients     []string `yaml:"recipients"`
}

// Timeout 返回 SMTP 会话超时。
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig 统一描述任务与报告历史的存储后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `yaml:"task_store"`
	Reports   ReportsConfig   `yaml:"reports"`
}

// TaskStoreConfig 支持内存与 MySQL 两种实现。
type TaskStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	DSNEnv                 string `yaml:"dsn_env"`
	MaxRetries             int    `yaml:"max_retries"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (c TaskStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最长空闲时间。
func (c TaskStoreConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second
}

// ReportsConfig 描述报告历史的存储方式。driver 为 mysql 时复用 task_store 的 DSN。
type ReportsConfig struct {
	Driver string `yaml:"driver"`
}

// TaskQueueConfig 描述任务队列与工作协程数量。
type TaskQueueConfig struct {
	Driver   string         `yaml:"driver"`
	Worker   int            `yaml:"worker"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Fallback FallbackConfig `yaml:"fallback"`
}

// FallbackConfig 控制运行失败时是否复用同一目标的历史报告。
type FallbackConfig struct {
	ReuseLastReport bool `yaml:"reuse_last_report"`
	MaxAgeHours     int  `yaml:"max_age_hours"`
}

// RedisConfig 对应 Redis 列表队列。
type RedisConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 对应 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// AlertingConfig 控制运行失败时的邮件告警。
type AlertingConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Recipients []string `yaml:"recipients"`
}

// AuthConfig 描述 API 访问密钥。
type AuthConfig struct {
	Enabled bool           `yaml:"enabled"`
	Keys    []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig 是一把访问密钥及其权限。
type APIKeyConfig struct {
	Name        string   `yaml:"name"`
	Key         string   `yaml:"key"`
	KeyEnv      string   `yaml:"key_env"`
	Permissions []string `yaml:"permissions"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ResolvePath 返回实际使用的配置文件路径：参数优先，其次环境变量，最后默认值。
func ResolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件，并补齐默认值、校验取值。
func Load(path string) (*Config, error) {
	path = ResolvePath(path)

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, xerrors.Wrapf(xerrors.CodeConfigInvalid, err, "load config %s", path)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, xerrors.Wrapf(xerrors.CodeConfigInvalid, err, "parse config %s", path)
	}

	baseDir := filepath.Dir(path)
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	cfg.applyDefaults(baseDir)
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回一份不依赖配置文件的默认配置，供 CLI 单次运行使用。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	cfg.resolveSecrets()
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, filepath.Join("logs", "audit.log"))
	}

	c.Knowledge.Path = resolve(baseDir, c.Knowledge.Path, "knowledge_base.json")

	if c.Search.Provider == "" {
		c.Search.Provider = "duckduckgo"
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 5
	}
	if c.Search.TimeoutSeconds <= 0 {
		c.Search.TimeoutSeconds = 15
	}
	if c.Search.CacheSize <= 0 {
		c.Search.CacheSize = 128
	}
	if c.Search.CacheTTLSeconds <= 0 {
		c.Search.CacheTTLSeconds = 600
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "offline"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = c.LLM.TimeoutSeconds
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.Anthropic.MaxTokens <= 0 {
		c.LLM.Anthropic.MaxTokens = 2048
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir, ".")

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	c.Report.OutputDir = resolve(baseDir, c.Report.OutputDir, "reports")

	if c.Mail.TimeoutSeconds <= 0 {
		c.Mail.TimeoutSeconds = 20
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.MaxRetries <= 0 {
		c.Storage.TaskStore.MaxRetries = 3
	}
	if c.Storage.Reports.Driver == "" {
		c.Storage.Reports.Driver = c.Storage.TaskStore.Driver
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 2
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 256
	}
	if c.TaskQueue.Redis.Queue == "" {
		c.TaskQueue.Redis.Queue = "salesintel:runs"
	}
	if c.TaskQueue.Redis.BlockWaitSeconds <= 0 {
		c.TaskQueue.Redis.BlockWaitSeconds = 5
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "salesintel.runs"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// resolveSecrets 通过 *_env 字段以及约定的环境变量补齐凭据。
func (c *Config) resolveSecrets() {
	c.LLM.OpenAI.APIKey = firstNonEmpty(c.LLM.OpenAI.APIKey, os.Getenv(c.LLM.OpenAI.APIKeyEnv))
	c.LLM.Anthropic.APIKey = firstNonEmpty(c.LLM.Anthropic.APIKey, os.Getenv(c.LLM.Anthropic.APIKeyEnv))

	if c.Storage.TaskStore.DSNEnv != "" {
		c.Storage.TaskStore.DSN = firstNonEmpty(c.Storage.TaskStore.DSN, os.Getenv(c.Storage.TaskStore.DSNEnv))
	}

	c.Mail.Address = firstNonEmpty(c.Mail.Address, os.Getenv("EMAIL_ADDRESS"))
	if c.Mail.PasswordEnv != "" {
		c.Mail.Password = firstNonEmpty(c.Mail.Password, os.Getenv(c.Mail.PasswordEnv))
	}
	c.Mail.Password = firstNonEmpty(c.Mail.Password, os.Getenv("EMAIL_PASSWORD"))
	c.Mail.Server = firstNonEmpty(c.Mail.Server, os.Getenv("SMTP_SERVER"))
	c.Mail.Port = firstNonEmpty(c.Mail.Port, os.Getenv("SMTP_PORT"))

	for i := range c.Auth.Keys {
		if c.Auth.Keys[i].KeyEnv != "" {
			c.Auth.Keys[i].Key = firstNonEmpty(c.Auth.Keys[i].Key, os.Getenv(c.Auth.Keys[i].KeyEnv))
		}
	}
}

// Validate 拒绝未知的驱动与不完整的依赖配置。
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf(format, args...))
	}

	switch c.LLM.Provider {
	case "offline", "openai", "anthropic", "python_bridge":
	default:
		return invalid("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "python_bridge" && strings.TrimSpace(c.LLM.Python.ScriptPath) == "" {
		return invalid("llm.python_bridge.script_path is required")
	}

	switch c.Search.Provider {
	case "duckduckgo", "none":
	default:
		return invalid("unknown search provider %q", c.Search.Provider)
	}

	switch c.Storage.TaskStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.TaskStore.DSN) == "" {
			return invalid("storage.task_store.dsn is required for mysql")
		}
	default:
		return invalid("unknown task store driver %q", c.Storage.TaskStore.Driver)
	}
	switch c.Storage.Reports.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.TaskStore.DSN) == "" {
			return invalid("storage.task_store.dsn is required for mysql report history")
		}
	default:
		return invalid("unknown report store driver %q", c.Storage.Reports.Driver)
	}

	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.TaskQueue.Redis.Address) == "" {
			return invalid("task_queue.redis.address is required")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.TaskQueue.RabbitMQ.URL) == "" {
			return invalid("task_queue.rabbitmq.url is required")
		}
	default:
		return invalid("unknown task queue driver %q", c.TaskQueue.Driver)
	}

	if c.Mail.Enabled {
		if c.Mail.Address == "" || c.Mail.Password == "" || c.Mail.Server == "" || c.Mail.Port == "" {
			return invalid("mail is enabled but EMAIL_ADDRESS, EMAIL_PASSWORD, SMTP_SERVER or SMTP_PORT is missing")
		}
		if _, err := strconv.Atoi(c.Mail.Port); err != nil {
			return invalid("mail port %q is not numeric", c.Mail.Port)
		}
	}
	if c.Alerting.Enabled && !c.Mail.Enabled {
		return invalid("alerting requires mail to be enabled")
	}

	if c.Auth.Enabled {
		if len(c.Auth.Keys) == 0 {
			return invalid("auth is enabled but no keys are configured")
		}
		for _, key := range c.Auth.Keys {
			if strings.TrimSpace(key.Key) == "" {
				return invalid("api key %q has no value", key.Name)
			}
		}
	}
	return nil
}

func resolve(baseDir, value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
