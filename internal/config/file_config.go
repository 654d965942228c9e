package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var defaultConfigFilenames = []string{
	"hostscrape.yaml",
	"hostscrape.yml",
	"hostscrape.toml",
	".hostscrape.yaml",
	".hostscrape.yml",
	".hostscrape.toml",
}

type FileConfig struct {
	DSN       string              `yaml:"dsn" toml:"dsn"`
	Scheduler SchedulerFileConfig `yaml:"scheduler" toml:"scheduler"`
	Browser   BrowserFileConfig   `yaml:"browser" toml:"browser"`
	Session   SessionFileConfig   `yaml:"session" toml:"session"`
	HTTP      HTTPFileConfig      `yaml:"http" toml:"http"`
}

type SchedulerFileConfig struct {
	MaxConcurrentTasks *int   `yaml:"max_concurrent_tasks" toml:"max_concurrent_tasks"`
	CategoryDelay      string `yaml:"category_delay" toml:"category_delay"`
	KeepRecentTerminal *int   `yaml:"keep_recent_terminal" toml:"keep_recent_terminal"`
}

type BrowserFileConfig struct {
	Headless      *bool  `yaml:"headless" toml:"headless"`
	NavTimeout    string `yaml:"nav_timeout" toml:"nav_timeout"`
	StepTimeout   string `yaml:"step_timeout" toml:"step_timeout"`
	RetryAttempts *int   `yaml:"retry_attempts" toml:"retry_attempts"`
	CodeMode      string `yaml:"code_mode" toml:"code_mode"`
	CodeWait      string `yaml:"code_wait" toml:"code_wait"`
}

type SessionFileConfig struct {
	TTL           string `yaml:"ttl" toml:"ttl"`
	SweepSchedule string `yaml:"sweep_schedule" toml:"sweep_schedule"`
}

type HTTPFileConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	AuthToken string `yaml:"auth_token" toml:"auth_token"`
}

func ResolveConfigPath(args []string) (string, error) {
	path, ok, err := parseConfigFlag(args)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}
	if env := os.Getenv("HOSTSCRAPE_CONFIG"); env != "" {
		return env, nil
	}
	for _, name := range defaultConfigFilenames {
		if fileExists(name) {
			return name, nil
		}
	}
	return "", nil
}

func LoadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}

	return &cfg, nil
}

func ApplyFileConfig(cfg *Config, fileCfg *FileConfig) error {
	if fileCfg == nil {
		return nil
	}

	if fileCfg.DSN != "" {
		cfg.DatabaseURL = fileCfg.DSN
	}

	if fileCfg.Scheduler.MaxConcurrentTasks != nil {
		cfg.MaxConcurrentTasks = *fileCfg.Scheduler.MaxConcurrentTasks
	}
	if fileCfg.Scheduler.CategoryDelay != "" {
		parsed, err := parseDurationField("scheduler.category_delay", fileCfg.Scheduler.CategoryDelay)
		if err != nil {
			return err
		}
		cfg.CategoryDelay = parsed
	}
	if fileCfg.Scheduler.KeepRecentTerminal != nil {
		cfg.KeepRecentTerminal = *fileCfg.Scheduler.KeepRecentTerminal
	}

	if fileCfg.Browser.Headless != nil {
		cfg.Headless = *fileCfg.Browser.Headless
	}
	if fileCfg.Browser.NavTimeout != "" {
		parsed, err := parseDurationField("browser.nav_timeout", fileCfg.Browser.NavTimeout)
		if err != nil {
			return err
		}
		cfg.NavTimeout = parsed
	}
	if fileCfg.Browser.StepTimeout != "" {
		parsed, err := parseDurationField("browser.step_timeout", fileCfg.Browser.StepTimeout)
		if err != nil {
			return err
		}
		cfg.StepTimeout = parsed
	}
	if fileCfg.Browser.RetryAttempts != nil {
		cfg.RetryAttempts = *fileCfg.Browser.RetryAttempts
	}
	if fileCfg.Browser.CodeMode != "" {
		cfg.CodeMode = fileCfg.Browser.CodeMode
	}
	if fileCfg.Browser.CodeWait != "" {
		parsed, err := parseDurationField("browser.code_wait", fileCfg.Browser.CodeWait)
		if err != nil {
			return err
		}
		cfg.CodeWait = parsed
	}

	if fileCfg.Session.TTL != "" {
		parsed, err := parseDurationField("session.ttl", fileCfg.Session.TTL)
		if err != nil {
			return err
		}
		cfg.SessionTTL = parsed
	}
	if fileCfg.Session.SweepSchedule != "" {
		cfg.SweepSchedule = fileCfg.Session.SweepSchedule
	}

	if fileCfg.HTTP.Addr != "" {
		cfg.HTTPAddr = fileCfg.HTTP.Addr
	}
	if fileCfg.HTTP.AuthToken != "" {
		cfg.AuthToken = fileCfg.HTTP.AuthToken
	}

	return cfg.Validate()
}

func parseConfigFlag(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 >= len(args) || args[i+1] == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return args[i+1], true, nil
		}
		if strings.HasPrefix(arg, "--config=") {
			value := strings.TrimPrefix(arg, "--config=")
			if value == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return value, true, nil
		}
	}
	return "", false, nil
}

func parseDurationField(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return parsed, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
