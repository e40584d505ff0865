// Package config loads the stem separation service configuration from an
// optional YAML file and environment overrides.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Workers  int    `yaml:"workers"`
	WorkDir  string `yaml:"work_dir"`
	Device   string `yaml:"device"`
	LogLevel string `yaml:"log_level"`
	Demucs   Demucs `yaml:"demucs"`
}

// Demucs configures the separation tool invocation.
type Demucs struct {
	Python         string        `yaml:"python"`
	Model          string        `yaml:"model"`
	Models         []string      `yaml:"models"`
	DefaultFormat  string        `yaml:"default_format"`
	DefaultBitrate int           `yaml:"default_bitrate"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthTimeout  time.Duration `yaml:"health_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     8000,
		Workers:  1,
		WorkDir:  os.TempDir(),
		Device:   "auto",
		LogLevel: "info",
		Demucs: Demucs{
			Python:         "python",
			Model:          "htdemucs_ft",
			Models:         []string{"htdemucs_ft"},
			DefaultFormat:  "mp3",
			DefaultBitrate: 320,
			Timeout:        300 * time.Second,
			HealthTimeout:  10 * time.Second,
		},
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening config %s", path)
		}
		defer f.Close()

		if err := decode(f, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decoding yaml")
	}

	return nil
}

// ApplyEnv overrides Host, Port and Workers from HOST, PORT and WORKERS.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("HOST")); v != "" {
		c.Host = v
	}

	for _, kv := range []struct {
		key string
		dst *int
	}{
		{"PORT", &c.Port},
		{"WORKERS", &c.Workers},
	} {
		v := strings.TrimSpace(getenv(kv.key))
		if v == "" {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "environment variable %s", kv.key)
		}

		*kv.dst = n
	}

	return nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var problems []string

	if c.Host == "" {
		problems = append(problems, "host must not be empty")
	}

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, "port must be in 1..65535, got "+strconv.Itoa(c.Port))
	}

	if c.Workers < 1 {
		problems = append(problems, "workers must be >= 1, got "+strconv.Itoa(c.Workers))
	}

	switch strings.ToLower(c.Device) {
	case "auto", "cpu", "accelerator", "gpu", "cuda":
	default:
		problems = append(problems, "device must be auto, cpu or accelerator, got "+strconv.Quote(c.Device))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		problems = append(problems, "log_level is invalid: "+strconv.Quote(c.LogLevel))
	}

	d := c.Demucs
	if d.Python == "" {
		problems = append(problems, "demucs.python must not be empty")
	}

	if d.Model == "" {
		problems = append(problems, "demucs.model must not be empty")
	}

	if d.DefaultFormat != "mp3" && d.DefaultFormat != "wav" {
		problems = append(problems, "demucs.default_format must be mp3 or wav, got "+strconv.Quote(d.DefaultFormat))
	}

	if d.DefaultBitrate <= 0 {
		problems = append(problems, "demucs.default_bitrate must be > 0")
	}

	if d.Timeout <= 0 {
		problems = append(problems, "demucs.timeout must be > 0")
	}

	if d.HealthTimeout <= 0 {
		problems = append(problems, "demucs.health_timeout must be > 0")
	}

	if len(problems) > 0 {
		return errors.Newf("invalid config: %s", strings.Join(problems, "; "))
	}

	return nil
}
