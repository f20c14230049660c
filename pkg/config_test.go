package dupwalk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	tempDir := t.TempDir()

	// Load config (should create default)
	config, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	all := config.GetAllConfig()
	if all.Hash.Default != "sha256" {
		t.Errorf("Expected default hash algorithm 'sha256', got '%s'", all.Hash.Default)
	}
	if all.Performance.MaxInFlightFolders != DefaultMaxInFlightFolders {
		t.Errorf("Expected max_inflight_folders %d, got %d", DefaultMaxInFlightFolders, all.Performance.MaxInFlightFolders)
	}
	if all.State.Backend != "file" {
		t.Errorf("Expected state backend 'file', got '%s'", all.State.Backend)
	}
	if all.State.SaveInterval != time.Minute {
		t.Errorf("Expected save interval 1m, got %v", all.State.SaveInterval)
	}
	if size, err := config.HashBufferBytes(); err != nil || size != 1<<20 {
		t.Errorf("Expected 1MiB hash buffer, got %d (%v)", size, err)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}

	// Verify config file was created
	configPath := filepath.Join(tempDir, "config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
}

func TestConfigOverrides(t *testing.T) {
	tempDir := t.TempDir()

	config, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	err = config.ApplyOverrides([]string{
		"default:sha512_256",
		"format:json",
		"level:2",
		"debug:walk,store",
		"hash_buffer:4MiB",
		"io_workers:3",
		"backend:sqlite",
		"save_interval:30s",
	})
	if err != nil {
		t.Fatalf("Failed to apply overrides: %v", err)
	}

	all := config.GetAllConfig()
	if all.Hash.Default != "sha512_256" {
		t.Errorf("Expected hash algorithm 'sha512_256' after override, got '%s'", all.Hash.Default)
	}
	if all.Output.Format != "json" {
		t.Errorf("Expected output format 'json' after override, got '%s'", all.Output.Format)
	}
	if all.Verbose.Level != 2 {
		t.Errorf("Expected verbose level 2 after override, got %d", all.Verbose.Level)
	}
	if all.Verbose.Debug != "walk,store" {
		t.Errorf("Expected debug flags 'walk,store' after override, got '%s'", all.Verbose.Debug)
	}
	if all.Performance.IOWorkers != 3 {
		t.Errorf("Expected 3 io workers after override, got %d", all.Performance.IOWorkers)
	}
	if all.State.Backend != "sqlite" || all.State.SaveInterval != 30*time.Second {
		t.Errorf("Unexpected state config after override: %+v", all.State)
	}
	if size, _ := config.HashBufferBytes(); size != 4<<20 {
		t.Errorf("Expected 4MiB hash buffer, got %d", size)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Overridden config should validate: %v", err)
	}
}

func TestConfigOverrideErrors(t *testing.T) {
	config := DefaultConfig()

	if err := config.ApplyOverrides([]string{"nocolon"}); err == nil {
		t.Error("Expected error for override without ':'")
	}
	if err := config.ApplyOverrides([]string{"symlink_mode:all"}); err == nil {
		t.Error("Expected error for unknown override key")
	}
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"unknown hash", "default:md5"},
		{"bad format", "format:xml"},
		{"verbose too high", "level:9"},
		{"negative workers", "io_workers:-1"},
		{"zero buffer", "hash_buffer:0"},
		{"bad buffer", "hash_buffer:lots"},
		{"zero inflight", "max_inflight_folders:0"},
		{"bad backend", "backend:tape"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			if err := config.ApplyOverrides([]string{tt.override}); err != nil {
				t.Fatalf("Failed to apply override: %v", err)
			}
			if err := config.Validate(); err == nil {
				t.Errorf("Expected %q to fail validation", tt.override)
			}
		})
	}
}

func TestConfigPersistsEdits(t *testing.T) {
	tempDir := t.TempDir()
	config, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if err := config.ApplyOverrides([]string{"log_format:json"}); err != nil {
		t.Fatalf("Failed to apply override: %v", err)
	}
	if err := config.Save(); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	reloaded, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if got := reloaded.GetLogConfig().Format; got != "json" {
		t.Errorf("Expected log format 'json' after reload, got '%s'", got)
	}
}

func TestParseHumanSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1MiB", 1 << 20, false},
		{"512KiB", 512 << 10, false},
		{"4096", 4096, false},
		{"1MB", 1000000, false},
		{"", 0, true},
		{"2GiB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseHumanSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHumanSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHumanSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
