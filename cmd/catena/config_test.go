package main

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func parseArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	v := viper.New()
	cmd := &cobra.Command{Use: "catena"}
	if err := bindFlags(cmd, v); err != nil {
		t.Fatalf("bindFlags: %v", err)
	}
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return parseConfig(v)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseArgs(t)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.DatabasePath != "catena.sqlite" {
		t.Fatalf("DatabasePath = %q, want catena.sqlite", cfg.DatabasePath)
	}
	if cfg.GossipPort != 8338 {
		t.Fatalf("GossipPort = %d, want 8338", cfg.GossipPort)
	}
	if cfg.QueryPort != 8339 {
		t.Fatalf("QueryPort = %d, want gossip-port+1 (8339)", cfg.QueryPort)
	}
}

func TestParseConfigExplicitQueryPortNotOverridden(t *testing.T) {
	cfg, err := parseArgs(t, "--gossip-port=9000", "--query-port=7777")
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.QueryPort != 7777 {
		t.Fatalf("QueryPort = %d, want the explicit 7777", cfg.QueryPort)
	}
}

func TestParseConfigInMemoryAndDatabaseMutuallyExclusive(t *testing.T) {
	_, err := parseArgs(t, "--in-memory-database", "--database=foo.sqlite")
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage, got %v", err)
	}
}

func TestParseConfigInMemoryDatabasePath(t *testing.T) {
	cfg, err := parseArgs(t, "--in-memory-database")
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.DatabasePath != ":memory:" {
		t.Fatalf("DatabasePath = %q, want :memory:", cfg.DatabasePath)
	}
}

func TestParseConfigGossipPortOutOfRange(t *testing.T) {
	_, err := parseArgs(t, "--gossip-port=0")
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage for gossip-port=0, got %v", err)
	}

	_, err = parseArgs(t, "--gossip-port=70000")
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage for gossip-port=70000, got %v", err)
	}
}

func TestParseConfigInvalidLogLevel(t *testing.T) {
	_, err := parseArgs(t, "--log=chatty")
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage for an unknown log level, got %v", err)
	}
}

func TestParseConfigValidLogLevels(t *testing.T) {
	for name := range logLevels {
		cfg, err := parseArgs(t, "--log="+name)
		if err != nil {
			t.Fatalf("parseConfig(--log=%s): %v", name, err)
		}
		if cfg.LogLevel != logLevels[name] {
			t.Fatalf("LogLevel = %v, want %v", cfg.LogLevel, logLevels[name])
		}
	}
}

func TestParseConfigRejectsMalformedJoinURL(t *testing.T) {
	_, err := parseArgs(t, "--join=not-a-url")
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected errUsage for a malformed --join URL, got %v", err)
	}
}

func TestParseConfigAcceptsWellFormedJoinURLs(t *testing.T) {
	cfg, err := parseArgs(t, "--join=ws://10.0.0.1:8338", "--join=ws://10.0.0.2:8338")
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if len(cfg.JoinURLs) != 2 {
		t.Fatalf("expected 2 join URLs, got %d", len(cfg.JoinURLs))
	}
}
