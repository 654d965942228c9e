package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL        string
	InstanceID         string
	MaxConcurrentTasks int
	RetryAttempts      int
	SessionTTL         time.Duration
	Headless           bool
	NavTimeout         time.Duration // page navigation budget
	StepTimeout        time.Duration // element wait budget
	CategoryDelay      time.Duration // pause between extraction routines
	CodeMode           string        // "interactive" or "service"
	CodeWait           time.Duration // service mode: how long to wait for a pre-registered code
	HTTPAddr           string
	AuthToken          string
	SweepSchedule      string // cron expression for the session expiry sweep
	KeepRecentTerminal int
}

func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DatabaseURL, "dsn", c.DatabaseURL, "Database connection string")
	fs.StringVar(&c.InstanceID, "instance-id", c.InstanceID, "Unique orchestrator instance ID")
	fs.IntVar(&c.MaxConcurrentTasks, "max-concurrent-tasks", c.MaxConcurrentTasks, "Maximum simultaneous browser sessions")
	fs.IntVar(&c.RetryAttempts, "retry-attempts", c.RetryAttempts, "Login form submission attempts before giving up")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "Lifetime of a persisted browser session")
	fs.BoolVar(&c.Headless, "headless", c.Headless, "Run the browser headless")
	fs.DurationVar(&c.NavTimeout, "nav-timeout", c.NavTimeout, "Per-navigation timeout")
	fs.DurationVar(&c.StepTimeout, "step-timeout", c.StepTimeout, "Per-element wait timeout")
	fs.DurationVar(&c.CategoryDelay, "category-delay", c.CategoryDelay, "Pause between extraction routines")
	fs.StringVar(&c.CodeMode, "code-mode", c.CodeMode, "One-time code acquisition mode (interactive|service)")
	fs.DurationVar(&c.CodeWait, "code-wait", c.CodeWait, "Service mode: wait budget for a pre-registered code")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP address for the status API")
	fs.StringVar(&c.SweepSchedule, "sweep-schedule", c.SweepSchedule, "Cron expression for the session expiry sweep")
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		InstanceID:         os.Getenv("INSTANCE_ID"),
		MaxConcurrentTasks: 5,
		RetryAttempts:      3,
		SessionTTL:         24 * time.Hour,
		Headless:           true,
		NavTimeout:         30 * time.Second,
		StepTimeout:        10 * time.Second,
		CategoryDelay:      2 * time.Second,
		CodeMode:           "interactive",
		CodeWait:           90 * time.Second,
		HTTPAddr:           ":8080",
		AuthToken:          os.Getenv("AUTH_TOKEN"),
		SweepSchedule:      "*/30 * * * *",
		KeepRecentTerminal: 10,
	}

	if cfg.InstanceID == "" {
		hostname, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("hostscrape-%s-%d", hostname, time.Now().Unix())
	}

	if v := os.Getenv("MAX_CONCURRENT_TASKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_TASKS: %w", err)
		}
		cfg.MaxConcurrentTasks = n
	}
	if v := os.Getenv("RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_ATTEMPTS: %w", err)
		}
		cfg.RetryAttempts = n
	}
	if v := os.Getenv("SESSION_EXPIRY_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_EXPIRY_HOURS: %w", err)
		}
		cfg.SessionTTL = time.Duration(n) * time.Hour
	}
	if v := os.Getenv("SCRAPING_HEADLESS"); v != "" {
		cfg.Headless = v == "true" || v == "1"
	}
	if v := os.Getenv("CODE_MODE"); v != "" {
		cfg.CodeMode = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max concurrent tasks must be >= 1, got %d", c.MaxConcurrentTasks)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d", c.RetryAttempts)
	}
	if c.CodeMode != "interactive" && c.CodeMode != "service" {
		return fmt.Errorf("code mode must be interactive or service, got %q", c.CodeMode)
	}
	return nil
}
