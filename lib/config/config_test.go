// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.Increment != time.Second {
		t.Errorf("expected 3 attempts at 1s increments, got %+v", cfg.Retry)
	}
	if cfg.Registration.Interval != 10*time.Second {
		t.Errorf("expected registration interval 10s, got %s", cfg.Registration.Interval)
	}
	if cfg.Platform.RefreshInterval != time.Second {
		t.Errorf("expected platform refresh 1s, got %s", cfg.Platform.RefreshInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when TRACEHOOK_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "TRACEHOOK_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "tracehook.yaml", `
agent_name: checkout
collector:
  network: tcp
  address: collector.internal:7070
retry:
  max_attempts: 5
  increment: 250ms
dispatch:
  flush_interval: 2s
  compression: zstd
call_tree:
  min_duration: 5ms
  method_min_durations:
    "example.com/shop.(*Cart).Checkout": 0s
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.AgentName != "checkout" || cfg.Collector.Network != "tcp" || cfg.Collector.Address != "collector.internal:7070" {
		t.Errorf("unexpected collector section: %s %+v", cfg.AgentName, cfg.Collector)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Increment != 250*time.Millisecond {
		t.Errorf("unexpected retry section: %+v", cfg.Retry)
	}
	if cfg.Dispatch.FlushInterval != 2*time.Second || cfg.Dispatch.Compression != "zstd" {
		t.Errorf("unexpected dispatch section: %+v", cfg.Dispatch)
	}
	// Unset fields keep their defaults.
	if cfg.Dispatch.MaxBuffered != 10000 || cfg.Collector.Transport != TransportSocket {
		t.Errorf("defaults lost: %+v %+v", cfg.Dispatch, cfg.Collector)
	}
	minimum, ok := cfg.CallTree.MethodMinDurations["example.com/shop.(*Cart).Checkout"]
	if cfg.CallTree.MinDuration != 5*time.Millisecond || !ok || minimum != 0 {
		t.Errorf("unexpected call tree section: %+v", cfg.CallTree)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "tracehook.jsonc", `{
  // Redis link for agents behind the NAT.
  "collector": {
    "transport": "redis",
    "redis_url": "redis://cache.internal:6379/2",
  },
  "dispatch": {"max_buffered": 500, "flush_threshold": 100},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Collector.Transport != TransportRedis || cfg.Collector.RedisURL != "redis://cache.internal:6379/2" {
		t.Errorf("unexpected collector section: %+v", cfg.Collector)
	}
	if cfg.Dispatch.MaxBuffered != 500 || cfg.Dispatch.FlushThreshold != 100 {
		t.Errorf("unexpected dispatch section: %+v", cfg.Dispatch)
	}
}

func TestLoadFile_ProductionDefaults(t *testing.T) {
	path := writeConfig(t, "tracehook.yaml", "environment: production\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Dispatch.Compression != "lz4" {
		t.Errorf("expected lz4 in production, got %s", cfg.Dispatch.Compression)
	}
	if cfg.CallTree.MinDuration != time.Millisecond {
		t.Errorf("expected 1ms minimum in production, got %s", cfg.CallTree.MinDuration)
	}
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "tracehook.yaml", `
environment: production
dispatch:
  compression: none
production:
  collector:
    address: /run/prod/collector.sock
  dispatch:
    compression: zstd
    flush_interval: 30s
  call_tree:
    method_min_durations:
      "main.handle": 10ms
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Collector.Address != "/run/prod/collector.sock" {
		t.Errorf("address = %s", cfg.Collector.Address)
	}
	if cfg.Dispatch.Compression != "zstd" || cfg.Dispatch.FlushInterval != 30*time.Second {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.CallTree.MethodMinDurations["main.handle"] != 10*time.Millisecond {
		t.Errorf("method durations = %v", cfg.CallTree.MethodMinDurations)
	}
	// An explicit production section replaces the built-in production
	// defaults entirely.
	if cfg.CallTree.MinDuration != 0 {
		t.Errorf("min duration = %s", cfg.CallTree.MinDuration)
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("TEST_COLLECTOR_HOST", "10.1.2.3")
	t.Setenv("TEST_UNSET_NAME", "")
	path := writeConfig(t, "tracehook.yaml", `
agent_name: ${TEST_UNSET_NAME:-fallback-agent}
collector:
  network: tcp
  address: ${TEST_COLLECTOR_HOST}:7070
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.AgentName != "fallback-agent" {
		t.Errorf("agent_name = %s", cfg.AgentName)
	}
	if cfg.Collector.Address != "10.1.2.3:7070" {
		t.Errorf("address = %s", cfg.Collector.Address)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeConfig(t, "broken.yaml", "retry: [unclosed\n")
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Collector.Transport = TransportRedis
	cfg.Retry.MaxAttempts = 0
	cfg.Dispatch.Compression = "gzip"
	cfg.Dispatch.FlushThreshold = cfg.Dispatch.MaxBuffered + 1
	cfg.CallTree.MethodMinDurations = map[string]time.Duration{"main.run": -time.Second}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{
		"invalid environment",
		"collector.redis_url",
		"retry.max_attempts",
		"dispatch.compression",
		"dispatch.flush_threshold",
		"method_min_durations[main.run]",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error does not mention %q:\n%v", fragment, err)
		}
	}
}
