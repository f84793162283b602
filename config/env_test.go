package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.InvitationTTL() != 7*24*time.Hour {
		t.Fatalf("expected 7 day invitation ttl, got %s", cfg.InvitationTTL())
	}
	if cfg.InvitationUniqueScope != UniqueScopeActive {
		t.Fatalf("expected active unique scope, got %q", cfg.InvitationUniqueScope)
	}
	if cfg.StorageTimeout() != 3*time.Second {
		t.Fatalf("expected 3s storage timeout, got %s", cfg.StorageTimeout())
	}
	if cfg.Storage.MaxRetries != 3 {
		t.Fatalf("expected 3 storage retries, got %d", cfg.Storage.MaxRetries)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INVITATION_TTL_HOURS", "48")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InvitationTTL() != 48*time.Hour {
		t.Fatalf("expected 48h ttl, got %s", cfg.InvitationTTL())
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Storage.Driver)
	}
	if len(cfg.CorsAllowedOrigins) != 2 {
		t.Fatalf("expected 2 cors origins, got %v", cfg.CorsAllowedOrigins)
	}
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"STORAGE_DRIVER", "postgres", "STORAGE_DRIVER"},
		{"NOTIFY_DRIVER", "smtp", "NOTIFY_DRIVER"},
		{"INVITATION_UNIQUE_SCOPE", "project", "INVITATION_UNIQUE_SCOPE"},
		{"INVITATION_TTL_HOURS", "0", "INVITATION_TTL_HOURS"},
		{"EXPIRY_SWEEP_INTERVAL_SECONDS", "0", "EXPIRY_SWEEP_INTERVAL_SECONDS"},
		{"STORAGE_TIMEOUT_MS", "not-an-int", "parse env:"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestDSNUsesUnixSocketForCloudSQL(t *testing.T) {
	dsn := DatabaseConfig{User: "u", Password: "p", Host: "/cloudsql/proj:region:inst", Name: "dispatch"}.DSN()
	if !strings.Contains(dsn, "@unix(/cloudsql/proj:region:inst)/dispatch") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	dsn = DatabaseConfig{User: "u", Password: "p", Host: "db", Port: "3307", Name: "dispatch"}.DSN()
	if !strings.Contains(dsn, "@tcp(db:3307)/dispatch") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}
