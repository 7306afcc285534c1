package cfg

import (
	"testing"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		// Version may also be set at build time
		t.Logf("Version: %s", version)
	}
}

func TestConfigFields(t *testing.T) {
	cfg := &Cfg{
		Port:              "8080",
		BaseUrl:           "https://characters.example.com",
		DBPath:            "./test.db",
		RedisAddr:         "localhost:6379",
		CachePrefix:       "test:",
		UpstreamURL:       "https://rickandmortyapi.com/api",
		UpstreamTimeout:   30,
		RateLimitCooldown: 60,
		MaxRetries:        3,
		BackoffMultiplier: 1,
		BackoffMin:        4,
		BackoffMax:        10,
		BreakerThreshold:  5,
		BreakerRecovery:   30,
		PageDelayMS:       100,
		SyncInterval:      3600,
		UserAgent:         "Test Agent",
		Timezone:          "UTC",
		Debug:             true,
		Version:           "test-version",
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port '8080', got '%s'", cfg.Port)
	}
	if cfg.UpstreamURL != "https://rickandmortyapi.com/api" {
		t.Errorf("Expected upstream URL 'https://rickandmortyapi.com/api', got '%s'", cfg.UpstreamURL)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.BreakerThreshold != 5 {
		t.Errorf("Expected breaker threshold 5, got %d", cfg.BreakerThreshold)
	}
	if cfg.BreakerRecovery != 30 {
		t.Errorf("Expected breaker recovery 30, got %d", cfg.BreakerRecovery)
	}
	if cfg.BackoffMin != 4 || cfg.BackoffMax != 10 {
		t.Errorf("Expected backoff bounds [4,10], got [%d,%d]", cfg.BackoffMin, cfg.BackoffMax)
	}
	if cfg.CachePrefix != "test:" {
		t.Errorf("Expected cache prefix 'test:', got '%s'", cfg.CachePrefix)
	}
	if !cfg.Debug {
		t.Error("Expected debug to be enabled")
	}
}

func TestApplyTimezone(t *testing.T) {
	if err := applyTimezone("UTC"); err != nil {
		t.Errorf("Expected UTC to be a valid timezone, got error: %v", err)
	}

	if err := applyTimezone("Not/AZone"); err == nil {
		t.Error("Expected error for invalid timezone")
	}
}
