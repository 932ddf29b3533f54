package docanalysis

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/docanalysis/llm"
	"github.com/brunobiangulo/docanalysis/parser"
)

// Config holds all configuration for the analysis pipeline.
type Config struct {
	// DBPath is the full path to the learning database.
	// If empty, defaults to ~/.docanalysis/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "docanalysis".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.docanalysis/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Chat-completion service used for extraction.
	LLM llm.Config `json:"llm" yaml:"llm"`

	// Extraction
	Temperature    float64 `json:"temperature" yaml:"temperature"`
	BasicThreshold float64 `json:"basic_threshold" yaml:"basic_threshold"` // basic confidence needed for the detailed tier

	// Learning store. Analyses only read it; corrections write to it.
	Learning LearningConfig `json:"learning" yaml:"learning"`

	// Limits
	MaxFileSize     int64 `json:"max_file_size" yaml:"max_file_size"`
	MaxTextLength   int   `json:"max_text_length" yaml:"max_text_length"`
	DeadlineSeconds int   `json:"deadline_seconds" yaml:"deadline_seconds"`

	// External tools
	TesseractPath          string `json:"tesseract_path" yaml:"tesseract_path"`
	OCRLanguages           string `json:"ocr_languages" yaml:"ocr_languages"`
	OCRFallbackLanguages   string `json:"ocr_fallback_languages" yaml:"ocr_fallback_languages"`
	AntiwordPath           string `json:"antiword_path" yaml:"antiword_path"`
	AntiwordTimeoutSeconds int    `json:"antiword_timeout_seconds" yaml:"antiword_timeout_seconds"`

	LogLevel string `json:"log_level" yaml:"log_level"` // debug, info, warn, error
}

// LearningConfig toggles the learning store.
type LearningConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns a Config with the production defaults. The LLM API
// key is never set here; it comes from the config file or the environment.
func DefaultConfig() Config {
	return Config{
		DBName:     "docanalysis",
		StorageDir: "home",
		LLM: llm.Config{
			Provider:       "deepseek",
			Model:          "deepseek-chat",
			ConnectTimeout: llm.DefaultConnectTimeout,
			ReadTimeout:    llm.DefaultReadTimeout,
			MaxRetries:     llm.DefaultMaxRetries,
		},
		Temperature:            0.1,
		BasicThreshold:         0.3,
		MaxFileSize:            parser.DefaultMaxFileSize,
		MaxTextLength:          100_000,
		DeadlineSeconds:        180,
		OCRLanguages:           "chi_sim+eng",
		OCRFallbackLanguages:   "eng",
		AntiwordTimeoutSeconds: 30,
		LogLevel:               "info",
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON config file over the
// defaults and applies DOCANALYSIS_* environment overrides. An empty path
// yields the defaults plus the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", filepath.Base(path), err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DOCANALYSIS_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DOCANALYSIS_LLM_PROVIDER":   &c.LLM.Provider,
		"DOCANALYSIS_LLM_BASE_URL":   &c.LLM.BaseURL,
		"DOCANALYSIS_LLM_API_KEY":    &c.LLM.APIKey,
		"DOCANALYSIS_LLM_MODEL":      &c.LLM.Model,
		"DOCANALYSIS_DB_PATH":        &c.DBPath,
		"DOCANALYSIS_TESSERACT_PATH": &c.TesseractPath,
		"DOCANALYSIS_ANTIWORD_PATH":  &c.AntiwordPath,
		"DOCANALYSIS_LOG_LEVEL":      &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("DOCANALYSIS_DEADLINE_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("DOCANALYSIS_DEADLINE_SECONDS: invalid value %q", v)
		}
		c.DeadlineSeconds = n
	}
	if v, ok := lookup("DOCANALYSIS_LEARNING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOCANALYSIS_LEARNING_ENABLED: invalid value %q", v)
		}
		c.Learning.Enabled = b
	}
	return nil
}

// Deadline is the per-analysis time limit.
func (c *Config) Deadline() time.Duration {
	if c.DeadlineSeconds <= 0 {
		return 180 * time.Second
	}
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "docanalysis"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".docanalysis", name+".db")
	}
}

func (c *Config) parserOptions(runner parser.Runner) parser.Options {
	return parser.Options{
		Runner:               runner,
		TesseractPath:        c.TesseractPath,
		OCRLanguages:         c.OCRLanguages,
		OCRFallbackLanguages: c.OCRFallbackLanguages,
		AntiwordPath:         c.AntiwordPath,
		AntiwordTimeout:      time.Duration(c.AntiwordTimeoutSeconds) * time.Second,
	}
}
