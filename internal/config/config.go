// Package config assembles the run configuration: built-in defaults, an
// optional YAML file, RCTCORE_* environment variables and, last, command
// flags applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rctcore/internal/panel"
)

// ErrInvalid marks a configuration that cannot be used.
var ErrInvalid = errors.New("config: invalid")

// DefaultInput is the trial's long-format Stata file.
const DefaultInput = "ms_blel_jpal_long.dta"

// Regression holds inference settings.
type Regression struct {
	UseT  bool    `yaml:"use_t"`
	Alpha float64 `yaml:"alpha"`
}

// S3 holds connection settings for s3:// inputs.
type S3 struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Config is the complete run configuration.
type Config struct {
	Input       string        `yaml:"input"`
	Format      string        `yaml:"format"`
	Table       string        `yaml:"table"`
	Output      string        `yaml:"output"`
	LogLevel    string        `yaml:"log_level"`
	Pushgateway string        `yaml:"pushgateway"`
	Timeout     time.Duration `yaml:"timeout"`
	Verbose     bool          `yaml:"verbose"`
	Regression  Regression    `yaml:"regression"`
	Columns     panel.Columns `yaml:"columns"`
	S3          S3            `yaml:"s3"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Input:      DefaultInput,
		Table:      "panel",
		Output:     "text",
		LogLevel:   "info",
		Timeout:    5 * time.Minute,
		Regression: Regression{Alpha: 0.05},
		Columns:    panel.DefaultColumns(),
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// merge decodes a YAML document over c, rejecting unknown keys.
func (c *Config) merge(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	c.Columns = c.Columns.WithDefaults()
	return nil
}

// ApplyEnv overrides fields from RCTCORE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("RCTCORE_INPUT", &c.Input)
	str("RCTCORE_FORMAT", &c.Format)
	str("RCTCORE_TABLE", &c.Table)
	str("RCTCORE_OUTPUT", &c.Output)
	str("RCTCORE_LOG_LEVEL", &c.LogLevel)
	str("RCTCORE_PUSHGATEWAY_URL", &c.Pushgateway)
	str("RCTCORE_S3_REGION", &c.S3.Region)
	str("RCTCORE_S3_ENDPOINT", &c.S3.Endpoint)
	if v, ok := lookup("RCTCORE_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: RCTCORE_S3_PATH_STYLE=%q is not a boolean", ErrInvalid, v)
		}
		c.S3.PathStyle = b
	}
	return nil
}

var (
	inputFormats  = []string{"", "dta", "csv"}
	outputFormats = []string{"text", "json", "csv"}
	logLevels     = []string{"debug", "info", "warn", "error"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// Validate checks the assembled configuration, reporting every problem.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Input) == "" {
		problems = append(problems, "input is required")
	}
	if !oneOf(c.Format, inputFormats) {
		problems = append(problems, fmt.Sprintf("format %q is not dta or csv", c.Format))
	}
	if !oneOf(c.Output, outputFormats) {
		problems = append(problems, fmt.Sprintf("output %q is not text, json or csv", c.Output))
	}
	if !oneOf(c.LogLevel, logLevels) {
		problems = append(problems, fmt.Sprintf("log level %q is not debug, info, warn or error", c.LogLevel))
	}
	if c.Regression.Alpha <= 0 || c.Regression.Alpha >= 1 {
		problems = append(problems, fmt.Sprintf("alpha %v must lie strictly between 0 and 1", c.Regression.Alpha))
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
