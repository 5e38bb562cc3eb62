package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/perangkat/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. PERANGKAT_DATABASE_PATH or
// PERANGKAT_SCAN_POLL_INTERVAL. Only section structs carry envconfig tags; leaf names come
// from split_words so no key falls back to an unprefixed variable.
const EnvPrefix = "PERANGKAT"

type Config struct {
	Database DatabaseConfig `toml:"database" envconfig:"DATABASE"`
	Scan     ScanConfig     `toml:"scan" envconfig:"SCAN"`
	Archive  ArchiveConfig  `toml:"archive" envconfig:"ARCHIVE"`
	Rules    RulesConfig    `toml:"rules" envconfig:"RULES"`
	Import   ImportConfig   `toml:"import" envconfig:"IMPORT"`
	Server   ServerConfig   `toml:"server" envconfig:"SERVER"`
	Logging  LoggingConfig  `toml:"logging" envconfig:"LOGGING"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ScanConfig holds durations in Go duration syntax, e.g. "24h".
type ScanConfig struct {
	Throttle     string `toml:"throttle"`
	PollInterval string `toml:"poll_interval" split_words:"true"`
}

type ArchiveConfig struct {
	BatchSize int    `toml:"batch_size" split_words:"true"`
	Note      string `toml:"note"`
}

type RulesConfig struct {
	HeadPatterns     []string `toml:"head_patterns" split_words:"true"`
	DecreeCutoffYear int      `toml:"decree_cutoff_year" split_words:"true"`
	LegacyAge        int      `toml:"legacy_age" split_words:"true"`
	DefaultAge       int      `toml:"default_age" split_words:"true"`
	// Timezone is an IANA name used to take the civil date of "now".
	Timezone string `toml:"timezone"`
}

type ImportConfig struct {
	VillageScope string `toml:"village_scope" split_words:"true"`
	Actor        string `toml:"actor"`
}

type ServerConfig struct {
	Bind        string `toml:"bind"`
	APIEndpoint string `toml:"api_endpoint" split_words:"true"`
	MCPEndpoint string `toml:"mcp_endpoint" split_words:"true"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file" envconfig:"DEV_FILE"`
}

// DevFileConfig controls the logfmt file sink used in dev mode.
type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Scan: ScanConfig{
			Throttle:     "24h",
			PollInterval: "1h",
		},
		Archive: ArchiveConfig{
			BatchSize: 400,
			Note:      domain.DefaultArchiveNote,
		},
		Rules: RulesConfig{
			HeadPatterns:     append([]string(nil), domain.DefaultHeadOfVillagePatterns...),
			DecreeCutoffYear: domain.DefaultDecreeCutoffYear,
			LegacyAge:        domain.LegacyRetirementAge,
			DefaultAge:       domain.DefaultRetirementAge,
			Timezone:         "UTC",
		},
		Import: ImportConfig{
			Actor: "import",
		},
		Server: ServerConfig{
			Bind:        "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".perangkat/log",
			},
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) > 0 {
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode toml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays PERANGKAT_* environment variables that are set onto cfg.
func ApplyEnv(cfg Config) (Config, error) {
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env then .env.local from dir, later files overriding earlier ones.
// Missing files are ignored.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env", ".env.local"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := godotenv.Overload(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	if _, err := c.ScanThrottle(); err != nil {
		return err
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if c.Archive.BatchSize <= 0 {
		return fmt.Errorf("archive.batch_size must be > 0, got %d", c.Archive.BatchSize)
	}
	if c.Rules.DecreeCutoffYear < 0 {
		return fmt.Errorf("rules.decree_cutoff_year must be >= 0, got %d", c.Rules.DecreeCutoffYear)
	}
	if c.Rules.LegacyAge <= 0 || c.Rules.DefaultAge <= 0 {
		return fmt.Errorf("rules.legacy_age and rules.default_age must be > 0")
	}
	for i, pattern := range c.Rules.HeadPatterns {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("rules.head_patterns[%d] is empty", i)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// ScanThrottle returns the minimum time between two automatic scans.
func (c Config) ScanThrottle() (time.Duration, error) {
	return parsePositiveDuration("scan.throttle", c.Scan.Throttle)
}

// PollInterval returns how often the serve-mode sweeper asks the scanner to run.
func (c Config) PollInterval() (time.Duration, error) {
	return parsePositiveDuration("scan.poll_interval", c.Scan.PollInterval)
}

// Location resolves rules.timezone. Empty means UTC.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Rules.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid rules.timezone %q: %w", name, err)
	}
	return loc, nil
}

// TenureRules builds the rule set evaluated by the scanner and slot resolver.
func (c Config) TenureRules() (domain.TenureRules, error) {
	loc, err := c.Location()
	if err != nil {
		return domain.TenureRules{}, err
	}
	return domain.TenureRules{
		HeadOfVillagePatterns: append([]string(nil), c.Rules.HeadPatterns...),
		DecreeCutoffYear:      c.Rules.DecreeCutoffYear,
		LegacyAge:             c.Rules.LegacyAge,
		DefaultAge:            c.Rules.DefaultAge,
		Location:              loc,
	}.Normalized(), nil
}

func parsePositiveDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %s", field, raw)
	}
	return d, nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
