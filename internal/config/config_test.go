package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pelican.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
store:
  base_url: https://store.example.com
  bucket: pelican
  read_key: rk
  write_key: wk
mailer:
  api_key: mk
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Mailer.BaseURL != "https://api.resend.com" {
		t.Errorf("mailer base_url = %q", cfg.Mailer.BaseURL)
	}
	if cfg.Sending.EmailsPerSecond != 8 || cfg.Sending.BatchSize != 50 || cfg.Sending.MaxBatches != 5 {
		t.Errorf("sending defaults = %+v", cfg.Sending)
	}
	if cfg.Sending.BatchPause != 2*time.Second || cfg.Sending.LockTTL != 10*time.Minute {
		t.Errorf("sending durations = %+v", cfg.Sending)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
server:
  listen_addr: ":9999"
sending:
  emails_per_second: 2
  batch_size: 10
  batch_pause: 5s
  lock_ttl: 30m
logging:
  level: debug
  format: text
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Sending.EmailsPerSecond != 2 || cfg.Sending.BatchSize != 10 {
		t.Errorf("sending = %+v", cfg.Sending)
	}
	if cfg.Sending.BatchPause != 5*time.Second || cfg.Sending.LockTTL != 30*time.Minute {
		t.Errorf("sending durations = %+v", cfg.Sending)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("PELICAN_STORE_READ_KEY", "env-rk")
	t.Setenv("PELICAN_STORE_WRITE_KEY", "env-wk")
	t.Setenv("PELICAN_MAILER_API_KEY", "env-mk")

	cfg, err := Load(writeConfig(t, `
store:
  base_url: https://store.example.com
  bucket: pelican
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.ReadKey != "env-rk" || cfg.Store.WriteKey != "env-wk" {
		t.Errorf("store keys = %q / %q", cfg.Store.ReadKey, cfg.Store.WriteKey)
	}
	if cfg.Mailer.APIKey != "env-mk" {
		t.Errorf("mailer key = %q", cfg.Mailer.APIKey)
	}
}

func TestLoadValidates(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing store url",
			`
store:
  bucket: pelican
  read_key: rk
  write_key: wk
mailer:
  api_key: mk
`,
			"store.base_url",
		},
		{
			"missing keys",
			`
store:
  base_url: https://store.example.com
  bucket: pelican
mailer:
  api_key: mk
`,
			"read_key",
		},
		{
			"missing mailer key",
			`
store:
  base_url: https://store.example.com
  bucket: pelican
  read_key: rk
  write_key: wk
`,
			"mailer.api_key",
		},
		{
			"quota limits without path",
			minimalConfig + `
sending:
  quota:
    limits:
      messages_per_day: 100
`,
			"quota.path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
