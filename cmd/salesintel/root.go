package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"SalesIntel/internal/config"
	"SalesIntel/pkg/logger"
)

const version = "0.3.0"

// rootOptions 保存所有子命令共享的全局参数。
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "salesintel",
		Short: "SalesIntel - multi-agent sales intelligence pipeline",
		Long: `SalesIntel researches a target organisation with a crew of specialised agents,
consults a local knowledge base of sales frameworks, and produces a strategic
analysis report that can be emailed to the sales team.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML config (defaults to $SALESINTEL_CONFIG or configs/salesintel.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with SMTP and model credentials")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level from the config")

	cmd.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newSubmitCommand(),
		newKnowledgeCommand(opts),
	)
	return cmd
}

// loadConfig 读取 .env 与配置文件并初始化全局日志。
// allowDefault 为 true 且未显式指定配置时，缺失的配置文件会回落到内置默认值。
func (o *rootOptions) loadConfig(allowDefault bool) (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	path := config.ResolvePath(o.configPath)
	var cfg *config.Config
	if _, statErr := os.Stat(path); statErr != nil && allowDefault && strings.TrimSpace(o.configPath) == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		cfg = config.Default(filepath.Join(wd, filepath.Dir(config.DefaultPath)))
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := initLogger(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogger(cfg config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		},
	})
}
