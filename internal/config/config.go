package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pelicanmail/pelican/internal/quota"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Mailer  MailerConfig  `yaml:"mailer"`
	Sending SendingConfig `yaml:"sending"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// StoreConfig points at the hosted document store bucket
type StoreConfig struct {
	BaseURL  string `yaml:"base_url"`
	Bucket   string `yaml:"bucket"`
	ReadKey  string `yaml:"read_key"`
	WriteKey string `yaml:"write_key"`
}

// MailerConfig points at the transactional email API
type MailerConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// SendingConfig holds dispatch tunables
type SendingConfig struct {
	EmailsPerSecond float64       `yaml:"emails_per_second"`
	BatchSize       int           `yaml:"batch_size"`
	MaxBatches      int           `yaml:"max_batches"`
	BatchPause      time.Duration `yaml:"batch_pause"`
	ReserveDelay    time.Duration `yaml:"reserve_delay"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Quota           QuotaConfig   `yaml:"quota"`
}

// QuotaConfig holds the optional provider quota guard settings
type QuotaConfig struct {
	Path   string       `yaml:"path"`
	Limits quota.Limits `yaml:"limits"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PELICAN_STORE_READ_KEY"); v != "" {
		cfg.Store.ReadKey = v
	}
	if v := os.Getenv("PELICAN_STORE_WRITE_KEY"); v != "" {
		cfg.Store.WriteKey = v
	}
	if v := os.Getenv("PELICAN_MAILER_API_KEY"); v != "" {
		cfg.Mailer.APIKey = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = "http://localhost:8080"
	}
	if cfg.Mailer.BaseURL == "" {
		cfg.Mailer.BaseURL = "https://api.resend.com"
	}
	if cfg.Sending.EmailsPerSecond <= 0 {
		cfg.Sending.EmailsPerSecond = 8
	}
	if cfg.Sending.BatchSize <= 0 {
		cfg.Sending.BatchSize = 50
	}
	if cfg.Sending.MaxBatches <= 0 {
		cfg.Sending.MaxBatches = 5
	}
	if cfg.Sending.BatchPause <= 0 {
		cfg.Sending.BatchPause = 2 * time.Second
	}
	if cfg.Sending.ReserveDelay <= 0 {
		cfg.Sending.ReserveDelay = 100 * time.Millisecond
	}
	if cfg.Sending.LockTTL <= 0 {
		cfg.Sending.LockTTL = 10 * time.Minute
	}
	if cfg.Sending.PollInterval <= 0 {
		cfg.Sending.PollInterval = time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Store.BaseURL == "" {
		return fmt.Errorf("store.base_url is required")
	}
	if cfg.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required")
	}
	if cfg.Store.ReadKey == "" || cfg.Store.WriteKey == "" {
		return fmt.Errorf("store.read_key and store.write_key are required")
	}
	if cfg.Mailer.APIKey == "" {
		return fmt.Errorf("mailer.api_key is required")
	}
	if cfg.Sending.Quota.Limits.Enabled() && cfg.Sending.Quota.Path == "" {
		return fmt.Errorf("sending.quota.path is required when quota limits are set")
	}
	return nil
}
