package config

import (
	"os"
	"testing"
	"time"
)

func TestSupportedExtensions(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Defaults", ".txt,.md,.csv", []string{".txt", ".md", ".csv"}},
		{"Missing dots", "txt,md", []string{".txt", ".md"}},
		{"Spaces and case", " .TXT , .Md ", []string{".txt", ".md"}},
		{"Empty entries", ".txt,,.md,", []string{".txt", ".md"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{SupportedExtCSV: tt.input}
			result := cfg.SupportedExtensions()
			if len(result) != len(tt.expected) {
				t.Fatalf("SupportedExtensions(%q) returned %d entries, expected %d", tt.input, len(result), len(tt.expected))
			}
			for i, ext := range result {
				if ext != tt.expected[i] {
					t.Errorf("SupportedExtensions(%q)[%d] = %q, expected %q", tt.input, i, ext, tt.expected[i])
				}
			}
		})
	}
}

func TestMaxUploadBytes(t *testing.T) {
	cfg := &Config{MaxUploadSizeMB: 50}
	expected := int64(50 * 1024 * 1024)
	if got := cfg.MaxUploadBytes(); got != expected {
		t.Errorf("MaxUploadBytes() = %d, expected %d", got, expected)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{"Go duration", "30s", time.Minute, 30 * time.Second},
		{"Plain seconds", "120", time.Minute, 120 * time.Second},
		{"Invalid value", "abc", time.Minute, time.Minute},
		{"Empty env", "", time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION"
			os.Unsetenv(key)
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			if got := getEnvDuration(key, tt.defaultValue); got != tt.expected {
				t.Errorf("getEnvDuration(%q) = %v, expected %v", tt.envValue, got, tt.expected)
			}
		})
	}
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	os.Unsetenv("API_KEY")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() should fail without API_KEY")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	os.Setenv("API_KEY", "test")
	defer os.Unsetenv("API_KEY")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.ServerPort != 8000 {
		t.Errorf("ServerPort = %d, expected 8000", cfg.ServerPort)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, expected 5", cfg.MaxRetries)
	}
	if cfg.BreakerFailureThreshold != 3 {
		t.Errorf("BreakerFailureThreshold = %d, expected 3", cfg.BreakerFailureThreshold)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, expected 30s", cfg.ShutdownTimeout)
	}
}

func TestLoadConfigValidatesTimeouts(t *testing.T) {
	os.Setenv("API_KEY", "test")
	os.Setenv("SOFT_EXTRACT_TIMEOUT", "10m")
	os.Setenv("HARD_EXTRACT_TIMEOUT", "1m")
	defer func() {
		os.Unsetenv("API_KEY")
		os.Unsetenv("SOFT_EXTRACT_TIMEOUT")
		os.Unsetenv("HARD_EXTRACT_TIMEOUT")
	}()

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() should reject a hard timeout below the soft timeout")
	}
}

func TestLoadConfigValidatesWorkers(t *testing.T) {
	os.Setenv("API_KEY", "test")
	os.Setenv("EXTRACT_WORKERS", "0")
	defer func() {
		os.Unsetenv("API_KEY")
		os.Unsetenv("EXTRACT_WORKERS")
	}()

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() should reject zero extract workers")
	}
}
