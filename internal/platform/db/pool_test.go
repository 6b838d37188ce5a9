package db

import (
	"testing"
	"time"
)

func TestPoolConfig(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		opts     PoolOptions
		maxConns int32
		appName  string
	}{
		{"defaults", "postgres://u:p@localhost:5432/ledger", PoolOptions{MaxConns: 4}, 4, "medreport"},
		{"dsn application name kept", "postgres://u:p@localhost:5432/ledger?application_name=clinic", PoolOptions{MaxConns: 2}, 2, "clinic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := PoolConfig(tt.dsn, tt.opts)
			if err != nil {
				t.Fatalf("PoolConfig: %v", err)
			}
			if cfg.MaxConns != tt.maxConns {
				t.Errorf("MaxConns = %d, want %d", cfg.MaxConns, tt.maxConns)
			}
			if cfg.MinConns != 0 {
				t.Errorf("MinConns = %d, want 0", cfg.MinConns)
			}
			if cfg.MaxConnIdleTime != 5*time.Minute {
				t.Errorf("MaxConnIdleTime = %v", cfg.MaxConnIdleTime)
			}
			if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != tt.appName {
				t.Errorf("application_name = %q, want %q", got, tt.appName)
			}
		})
	}
}

func TestPoolConfig_ZeroMaxConnsKeepsPgxDefault(t *testing.T) {
	cfg, err := PoolConfig("postgres://localhost/ledger", PoolOptions{})
	if err != nil {
		t.Fatalf("PoolConfig: %v", err)
	}
	if cfg.MaxConns <= 0 {
		t.Errorf("expected pgx default MaxConns, got %d", cfg.MaxConns)
	}
}

func TestPoolConfig_InvalidDSN(t *testing.T) {
	if _, err := PoolConfig("postgres://localhost:notaport/ledger", PoolOptions{}); err == nil {
		t.Error("expected parse error")
	}
}
