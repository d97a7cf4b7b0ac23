package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Redis.TTL != 30*time.Second {
		t.Errorf("expected ttl 30s, got %v", cfg.Redis.TTL)
	}
	bal, _ := cfg.Account.Balance()
	if !bal.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected starting balance 10000, got %s", bal)
	}
	if !cfg.Feed.Enabled || cfg.Feed.Interval != 2*time.Second {
		t.Errorf("unexpected feed config %+v", cfg.Feed)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "carbon.yaml")
	doc := `
server:
  port: "9000"
account:
  owner: alice
  starting_balance: "2500.50"
feed:
  interval: 500ms
  volatility: "0.05"
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CARBON_ACCOUNT_OWNER", "bob")
	t.Setenv("DATABASE_URL", "postgres://localhost/carbon")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("expected port from file, got %s", cfg.Server.Port)
	}
	if cfg.Account.Owner != "bob" {
		t.Errorf("env should override file, got %s", cfg.Account.Owner)
	}
	if cfg.Database.URL != "postgres://localhost/carbon" {
		t.Errorf("bare DATABASE_URL should be honoured, got %q", cfg.Database.URL)
	}
	if cfg.Feed.Interval != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.Feed.Interval)
	}
	bal, _ := cfg.Account.Balance()
	if !bal.Equal(decimal.RequireFromString("2500.50")) {
		t.Errorf("expected 2500.50, got %s", bal)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Log.Level)
	}
}

func TestLoad_BarePortFallback(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected PORT to apply, got %s", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080"},
			Account: AccountConfig{Owner: "a", StartingBalance: "0"},
			Feed:    FeedConfig{Enabled: true, Interval: time.Second, Volatility: "0.02"},
			Log:     LogConfig{Level: "info"},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	cases := map[string]func(c *Config){
		"negative balance": func(c *Config) { c.Account.StartingBalance = "-1" },
		"bad balance":      func(c *Config) { c.Account.StartingBalance = "lots" },
		"zero volatility":  func(c *Config) { c.Feed.Volatility = "0" },
		"huge volatility":  func(c *Config) { c.Feed.Volatility = "1.5" },
		"zero interval":    func(c *Config) { c.Feed.Interval = 0 },
		"bad level":        func(c *Config) { c.Log.Level = "loud" },
		"no owner":         func(c *Config) { c.Account.Owner = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
