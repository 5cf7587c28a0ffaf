package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Default()
	cfg.Identity.UserID = "alice"
	return cfg
}

func TestDefaultNeedsOnlyIdentity(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config validated without a user id")
	}
	cfg.Identity.UserID = "alice"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad user id", func(c *Config) { c.Identity.UserID = "a/b" }},
		{"empty relay", func(c *Config) { c.Signaling.RelayURL = "" }},
		{"http relay", func(c *Config) { c.Signaling.RelayURL = "http://relay" }},
		{"bad api base", func(c *Config) { c.Signaling.APIBase = "ftp://x" }},
		{"bad stun entry", func(c *Config) { c.ICE.STUNURLs = []string{"https://stun"} }},
		{"negative timeout", func(c *Config) { c.ICE.FailedSec = -1 }},
		{"disconnected after failed", func(c *Config) { c.ICE.DisconnectedSec = 30; c.ICE.FailedSec = 10 }},
		{"no media at all", func(c *Config) { c.Media.Video = false; c.Media.Audio = false }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("no error")
			}
		})
	}
}

func TestLoadStripsBOMAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"identity":{"user_id":"alice"}}`)...)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Identity.UserID != "alice" {
		t.Fatalf("user id %q", cfg.Identity.UserID)
	}
	if cfg.Signaling.RelayURL != Default().Signaling.RelayURL {
		t.Fatal("missing fields not defaulted")
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	created, err := Ensure(path, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if created.Identity.UserID != "alice" {
		t.Fatalf("user id %q", created.Identity.UserID)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("config file not written")
	}

	loaded, err := Ensure(path, "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Identity.UserID != "alice" {
		t.Fatal("second Ensure did not load the existing file")
	}
}

func TestWatchDeliversValidReloadsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, validConfig()); err != nil {
		t.Fatal(err)
	}

	got := make(chan Config, 4)
	stop, err := Watch(path, func(c Config) { got <- c })
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	// Invalid edit is skipped.
	if err := os.WriteFile(path, []byte(`{"identity":{"user_id":""}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	// Valid edit is delivered.
	cfg := validConfig()
	cfg.Identity.DisplayName = "Alice"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Identity.DisplayName != "Alice" {
			t.Fatalf("reload delivered %+v", c.Identity)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload delivered")
	}
}
