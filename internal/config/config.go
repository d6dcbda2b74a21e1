package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"stepchain/internal/core"
)

// EnvPrefix is prepended to every environment override, e.g. STEPCHAIN_LOG_LEVEL.
const EnvPrefix = "STEPCHAIN"

// Executors
const (
	ExecutorProcess = "process"
	ExecutorDocker  = "docker"
)

// Config is the runtime configuration of the CLI and the server.
type Config struct {
	Log              LogConfig    `mapstructure:"log"`
	Executor         string       `mapstructure:"executor"`
	Workspace        string       `mapstructure:"workspace"`
	LogsDir          string       `mapstructure:"logs_dir"`
	Ledger           string       `mapstructure:"ledger"`
	KeysDir          string       `mapstructure:"keys_dir"`
	AgentID          string       `mapstructure:"agent_id"`
	RetainContainers bool         `mapstructure:"retain_containers"`
	Server           ServerConfig `mapstructure:"server"`
	Build            BuildConfig  `mapstructure:"build"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	QueueSize int    `mapstructure:"queue_size"`
	URL       string `mapstructure:"url"`
}

// BuildConfig holds built-in substitution values supplied by the environment.
type BuildConfig struct {
	ProjectID     string `mapstructure:"project_id"`
	ProjectNumber string `mapstructure:"project_number"`
	Location      string `mapstructure:"location"`
	CommitSHA     string `mapstructure:"commit_sha"`
	RepoName      string `mapstructure:"repo_name"`
	BranchName    string `mapstructure:"branch_name"`
	TagName       string `mapstructure:"tag_name"`
	TriggerID     string `mapstructure:"trigger_id"`
	TriggerName   string `mapstructure:"trigger_name"`
}

// Env converts the configured built-ins for a new build.
func (b BuildConfig) Env() core.BuildEnv {
	return core.BuildEnv{
		ProjectID:     b.ProjectID,
		ProjectNumber: b.ProjectNumber,
		Location:      b.Location,
		CommitSHA:     b.CommitSHA,
		RepoName:      b.RepoName,
		BranchName:    b.BranchName,
		TagName:       b.TagName,
		TriggerID:     b.TriggerID,
		TriggerName:   b.TriggerName,
	}
}

// SetDefaults registers every key so environment overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.color", false)
	v.SetDefault("executor", ExecutorProcess)
	v.SetDefault("workspace", ".")
	v.SetDefault("logs_dir", "./logs")
	v.SetDefault("ledger", "./ledger.jsonl")
	v.SetDefault("keys_dir", "./keys")
	v.SetDefault("agent_id", "local-agent")
	v.SetDefault("retain_containers", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.queue_size", 16)
	v.SetDefault("server.url", "http://localhost:8080")
	for _, k := range []string{
		"project_id", "project_number", "location", "commit_sha", "repo_name",
		"branch_name", "tag_name", "trigger_id", "trigger_name",
	} {
		v.SetDefault("build."+k, "")
	}
}

// Load reads defaults, an optional config file and STEPCHAIN_* environment variables.
// An explicit file that cannot be read is an error; a missing default file is not.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("stepchain")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.stepchain")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the components cannot work with.
func (c *Config) Validate() error {
	switch c.Executor {
	case ExecutorProcess, ExecutorDocker:
	default:
		return fmt.Errorf("unknown executor %q (want %s or %s)", c.Executor, ExecutorProcess, ExecutorDocker)
	}
	if c.Server.QueueSize < 1 {
		return fmt.Errorf("server.queue_size must be positive, got %d", c.Server.QueueSize)
	}
	return nil
}
