package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cbm/medreport/internal/platform/db"
)

type Config struct {
	Env                string   `mapstructure:"ENV"`
	Port               string   `mapstructure:"PORT"`
	DataRoot           string   `mapstructure:"DATA_ROOT"`
	OutputRoot         string   `mapstructure:"OUTPUT_ROOT"`
	ScratchRoot        string   `mapstructure:"SCRATCH_ROOT"`
	RosterFile         string   `mapstructure:"ROSTER_FILE"`
	LibreOfficeBin     string   `mapstructure:"LIBREOFFICE_BIN"`
	TextEngine         string   `mapstructure:"TEXT_ENGINE"`
	UnidocLicenseKey   string   `mapstructure:"UNIDOC_LICENSE_KEY"`
	RXMaxWidth         int      `mapstructure:"RX_MAX_WIDTH"`
	AudiometryDPI      int      `mapstructure:"AUDIOMETRY_DPI"`
	AudiometryMaxWidth int      `mapstructure:"AUDIOMETRY_MAX_WIDTH"`
	LedgerDSN          string   `mapstructure:"LEDGER_DSN"`
	LedgerSchema       string   `mapstructure:"LEDGER_SCHEMA"`
	MigrationsDir      string   `mapstructure:"MIGRATIONS_DIR"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	LogFormat          string   `mapstructure:"LOG_FORMAT"`
	LogLevel           string   `mapstructure:"LOG_LEVEL"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"ENV", "PORT", "DATA_ROOT", "OUTPUT_ROOT", "SCRATCH_ROOT", "ROSTER_FILE",
	"LIBREOFFICE_BIN", "TEXT_ENGINE", "UNIDOC_LICENSE_KEY",
	"RX_MAX_WIDTH", "AUDIOMETRY_DPI", "AUDIOMETRY_MAX_WIDTH",
	"LEDGER_DSN", "LEDGER_SCHEMA", "MIGRATIONS_DIR", "DB_MAX_CONNS",
	"LOG_FORMAT", "LOG_LEVEL", "CORS_ORIGINS",
}

// Load reads .env, when present, and the environment. Environment values
// win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8000")
	v.SetDefault("DATA_ROOT", "./DATA")
	v.SetDefault("OUTPUT_ROOT", "./OUTPUT")
	v.SetDefault("SCRATCH_ROOT", os.TempDir())
	v.SetDefault("ROSTER_FILE", "PRUEBA SISTEMA NUEVO.xlsx")
	v.SetDefault("LIBREOFFICE_BIN", "libreoffice")
	v.SetDefault("TEXT_ENGINE", "mupdf")
	v.SetDefault("RX_MAX_WIDTH", 700)
	v.SetDefault("AUDIOMETRY_DPI", 100)
	v.SetDefault("AUDIOMETRY_MAX_WIDTH", 1100)
	v.SetDefault("LEDGER_SCHEMA", "medreport")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.TextEngine = strings.ToLower(strings.TrimSpace(cfg.TextEngine))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LedgerIsPostgres reports whether LEDGER_DSN selects the Postgres ledger.
func (c *Config) LedgerIsPostgres() bool {
	return strings.HasPrefix(c.LedgerDSN, "postgres://") || strings.HasPrefix(c.LedgerDSN, "postgresql://")
}

// Validate checks the values every command depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataRoot) == "" {
		return fmt.Errorf("DATA_ROOT is required")
	}
	if strings.TrimSpace(c.OutputRoot) == "" {
		return fmt.Errorf("OUTPUT_ROOT is required")
	}
	if strings.TrimSpace(c.RosterFile) == "" {
		return fmt.Errorf("ROSTER_FILE is required")
	}

	if strings.TrimSpace(c.UnidocLicenseKey) == "" {
		return fmt.Errorf("UNIDOC_LICENSE_KEY is required: split, merge and image conversion write documents with unipdf, which refuses to save unlicensed")
	}

	switch c.TextEngine {
	case "mupdf", "native", "unipdf":
	default:
		return fmt.Errorf("TEXT_ENGINE must be \"mupdf\", \"native\" or \"unipdf\", got %q", c.TextEngine)
	}
	switch c.LogFormat {
	case "console", "json", "ecs":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"console\", \"json\" or \"ecs\", got %q", c.LogFormat)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if c.RXMaxWidth <= 0 {
		return fmt.Errorf("RX_MAX_WIDTH must be positive, got %d", c.RXMaxWidth)
	}
	if c.AudiometryDPI <= 0 {
		return fmt.Errorf("AUDIOMETRY_DPI must be positive, got %d", c.AudiometryDPI)
	}
	if c.AudiometryMaxWidth <= 0 {
		return fmt.Errorf("AUDIOMETRY_MAX_WIDTH must be positive, got %d", c.AudiometryMaxWidth)
	}

	if c.LedgerIsPostgres() {
		if err := db.ValidSchema(c.LedgerSchema); err != nil {
			return fmt.Errorf("LEDGER_SCHEMA: %w", err)
		}
	}
	return nil
}
