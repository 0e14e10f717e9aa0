// Package config exposes the quoting bot configuration loaded from a YAML or JSON file,
// an optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration that failed validation.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultTargetBps      = 8.0
	DefaultRefreshRate    = 0.5
	DefaultHTTPTimeout    = 10.0
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultStatusSchedule = "@every 1m"
	DefaultFatalPause     = 10.0

	wsStreamPath = "/ws-stream/v1"
)

// Config is the immutable runtime configuration handed to every component.
// Keys mirror the config.json shipped next to the executable.
type Config struct {
	JWTToken       string          `yaml:"JWT_TOKEN"`
	PrivateKeyHex  string          `yaml:"PRIVATE_KEY_HEX"`
	Symbol         string          `yaml:"SYMBOL"`
	BaseURL        string          `yaml:"BASE_URL"`
	WSURL          string          `yaml:"WS_URL"`
	OrderQty       decimal.Decimal `yaml:"ORDER_QTY"`
	TargetBps      float64         `yaml:"TARGET_BPS"`
	RefreshRate    float64         `yaml:"REFRESH_RATE"` // seconds
	HTTPTimeout    float64         `yaml:"HTTP_TIMEOUT"` // seconds
	LogLevel       string          `yaml:"LOG_LEVEL"`
	LogFormat      string          `yaml:"LOG_FORMAT"`
	MetricsAddr    string          `yaml:"METRICS_ADDR"`
	StatusSchedule *string         `yaml:"STATUS_SCHEDULE"`
	DryRun         bool            `yaml:"DRY_RUN"`
	FatalPause     *float64        `yaml:"FATAL_PAUSE"` // seconds to wait before exiting on a fatal error
}

// Load reads a config file, overlays .env and environment variables, fills defaults and validates.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	_ = godotenv.Load() // best-effort
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Locate picks the config path: the explicit one if given, else config.json beside
// the executable, else config.json or config.yaml in the working directory.
func Locate(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return "config.yaml"
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		*dst = f
		return nil
	}

	str("JWT_TOKEN", &c.JWTToken)
	str("PRIVATE_KEY_HEX", &c.PrivateKeyHex)
	str("SYMBOL", &c.Symbol)
	str("BASE_URL", &c.BaseURL)
	str("WS_URL", &c.WSURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("METRICS_ADDR", &c.MetricsAddr)

	if v, ok := lookup("ORDER_QTY"); ok && v != "" {
		qty, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: ORDER_QTY: %v", ErrInvalid, err)
		}
		c.OrderQty = qty
	}
	if err := num("TARGET_BPS", &c.TargetBps); err != nil {
		return err
	}
	if err := num("REFRESH_RATE", &c.RefreshRate); err != nil {
		return err
	}
	if err := num("HTTP_TIMEOUT", &c.HTTPTimeout); err != nil {
		return err
	}
	if v, ok := lookup("STATUS_SCHEDULE"); ok {
		c.StatusSchedule = &v
	}
	if v, ok := lookup("FATAL_PAUSE"); ok && v != "" {
		var pause float64
		if err := num("FATAL_PAUSE", &pause); err != nil {
			return err
		}
		c.FatalPause = &pause
	}
	if v, ok := lookup("DRY_RUN"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: DRY_RUN: %v", ErrInvalid, err)
		}
		c.DryRun = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Symbol = strings.TrimSpace(c.Symbol)
	c.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	if c.TargetBps == 0 {
		c.TargetBps = DefaultTargetBps
	}
	if c.RefreshRate == 0 {
		c.RefreshRate = DefaultRefreshRate
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.StatusSchedule == nil {
		s := DefaultStatusSchedule
		c.StatusSchedule = &s
	}
	if c.FatalPause == nil {
		p := DefaultFatalPause
		c.FatalPause = &p
	}
	if c.WSURL == "" {
		c.WSURL = deriveStreamURL(c.BaseURL)
	}
}

// deriveStreamURL maps https://host/... to wss://host/ws-stream/v1.
func deriveStreamURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "wss"
	if u.Scheme == "http" || u.Scheme == "ws" {
		scheme = "ws"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: wsStreamPath}).String()
}

// Validate reports every problem at once so operators can fix the file in one pass.
func (c *Config) Validate() error {
	var problems []string
	if c.JWTToken == "" {
		problems = append(problems, "JWT_TOKEN is required")
	}
	if c.PrivateKeyHex == "" {
		problems = append(problems, "PRIVATE_KEY_HEX is required")
	}
	if c.Symbol == "" {
		problems = append(problems, "SYMBOL is required")
	}
	if u, err := url.Parse(c.BaseURL); c.BaseURL == "" || err != nil || u.Host == "" {
		problems = append(problems, "BASE_URL must be an absolute URL")
	}
	if c.WSURL == "" {
		problems = append(problems, "WS_URL could not be derived from BASE_URL")
	}
	if !c.OrderQty.IsPositive() {
		problems = append(problems, "ORDER_QTY must be positive")
	}
	if c.TargetBps <= 0 {
		problems = append(problems, "TARGET_BPS must be positive")
	}
	if c.RefreshRate <= 0 {
		problems = append(problems, "REFRESH_RATE must be positive")
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "HTTP_TIMEOUT must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// RefreshInterval is the pause between quote cycles.
func (c *Config) RefreshInterval() time.Duration { return seconds(c.RefreshRate) }

// RequestTimeout bounds every REST call.
func (c *Config) RequestTimeout() time.Duration { return seconds(c.HTTPTimeout) }

// FatalPauseDuration is how long the process lingers after a startup failure.
func (c *Config) FatalPauseDuration() time.Duration {
	if c == nil || c.FatalPause == nil {
		return seconds(DefaultFatalPause)
	}
	return seconds(*c.FatalPause)
}

// Schedule returns the cron spec for status summaries; empty disables them.
func (c *Config) Schedule() string {
	if c.StatusSchedule == nil {
		return ""
	}
	return strings.TrimSpace(*c.StatusSchedule)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Field is a single printable configuration entry.
type Field struct {
	Key   string
	Value string
}

const masked = "********"

// Redacted lists the configuration with credentials masked, for startup output.
func (c *Config) Redacted() []Field {
	fields := []Field{
		{"JWT_TOKEN", c.JWTToken},
		{"PRIVATE_KEY_HEX", c.PrivateKeyHex},
		{"SYMBOL", c.Symbol},
		{"BASE_URL", c.BaseURL},
		{"WS_URL", c.WSURL},
		{"ORDER_QTY", c.OrderQty.String()},
		{"TARGET_BPS", strconv.FormatFloat(c.TargetBps, 'f', -1, 64)},
		{"REFRESH_RATE", strconv.FormatFloat(c.RefreshRate, 'f', -1, 64)},
		{"HTTP_TIMEOUT", strconv.FormatFloat(c.HTTPTimeout, 'f', -1, 64)},
		{"LOG_LEVEL", c.LogLevel},
		{"METRICS_ADDR", c.MetricsAddr},
		{"STATUS_SCHEDULE", c.Schedule()},
		{"DRY_RUN", strconv.FormatBool(c.DryRun)},
	}
	for i := range fields {
		if isSecret(fields[i].Key) && fields[i].Value != "" {
			fields[i].Value = masked
		}
	}
	return fields
}

func isSecret(key string) bool {
	return strings.Contains(key, "KEY") || strings.Contains(key, "TOKEN")
}
