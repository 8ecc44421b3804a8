package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the tuneprint API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Codec    CodecConfig    `yaml:"codec"`
	Matching MatchingConfig `yaml:"matching"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds storage backend settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, sqlite (default: redis)
	Addrs            []string `yaml:"addrs"`  // redis only
	Password         string   `yaml:"password"`
	Path             string   `yaml:"path"` // sqlite only
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	MaxQueryCodes    int      `yaml:"max_query_codes"` // cap on distinct codes per coarse query
}

// CodecConfig holds fingerprint wire format settings.
type CodecConfig struct {
	Version string `yaml:"version"` // supported codegen version, exact 4-char match
}

// MatchingConfig holds the scoring engine tunables. The two known deployments
// of the predecessor system ran with different values, so none of these are
// compile-time constants.
type MatchingConfig struct {
	MaxRows           int     `yaml:"max_rows"`
	MinScorePercent   float64 `yaml:"min_score_percent"`
	MinConfidence     float64 `yaml:"min_confidence"`
	BestMatchDiff     float64 `yaml:"best_match_diff"`
	Slop              uint32  `yaml:"slop"`
	QueryTrimSeconds  float64 `yaml:"query_trim_seconds"`
	IngestTrimSeconds float64 `yaml:"ingest_trim_seconds"`
	MinCandidateCodes int     `yaml:"min_candidate_codes"` // 0 = disabled
	DecisionPolicy    string  `yaml:"decision_policy"`     // margin, exact
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "tuneprint:"
	}
	if c.Database.MaxQueryCodes <= 0 {
		c.Database.MaxQueryCodes = 1024
	}
	if c.Codec.Version == "" {
		c.Codec.Version = "4.12"
	}
	if c.Matching.MaxRows <= 0 {
		c.Matching.MaxRows = 100
	}
	if c.Matching.MinScorePercent <= 0 {
		c.Matching.MinScorePercent = 0.05
	}
	if c.Matching.MinConfidence <= 0 {
		c.Matching.MinConfidence = 25
	}
	if c.Matching.BestMatchDiff <= 0 {
		c.Matching.BestMatchDiff = 0.25
	}
	if c.Matching.Slop == 0 {
		c.Matching.Slop = 2
	}
	if c.Matching.QueryTrimSeconds <= 0 {
		c.Matching.QueryTrimSeconds = 180
	}
	if c.Matching.IngestTrimSeconds <= 0 {
		c.Matching.IngestTrimSeconds = 4 * 60 * 60
	}
	if c.Matching.DecisionPolicy == "" {
		c.Matching.DecisionPolicy = "margin"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"sqlite\", got %q", c.Database.Driver)
	}
	switch c.Matching.DecisionPolicy {
	case "margin", "exact":
	default:
		return fmt.Errorf(
			"matching.decision_policy must be \"margin\" or \"exact\", got %q",
			c.Matching.DecisionPolicy,
		)
	}
	if len(c.Codec.Version) != 4 {
		return fmt.Errorf("codec.version must be a 4-character version string, got %q", c.Codec.Version)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
