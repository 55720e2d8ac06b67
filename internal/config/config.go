package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

//go:embed sample_config.json
var sampleConfig string

// ErrNoConfig indicates a daemon name could not be resolved to a file.
var ErrNoConfig = errors.New("daemon configuration not found")

// Telemetry contains sink endpoint configuration.
type Telemetry struct {
	BusURL    string `json:"busUrl"`
	BusBucket string `json:"busBucket"`
	PushURL   string `json:"pushUrl"`
	TextDir   string `json:"textDir"`
	Prefix    string `json:"prefix"`
}

// Config encapsulates one daemon's configuration file.
//
// Intervals are expressed in milliseconds in the file, except
// messagingTimeout which is in seconds. A non-positive sink interval
// disables that sink; intervals below the documented minimums are clamped
// up during normalization and recorded as warnings rather than rejected.
type Config struct {
	Enabled           bool      `json:"enabled"`
	ListeningPort     int       `json:"listeningPort"`
	ListeningInterval int       `json:"listeningInterval"`
	MessagingInterval int       `json:"messagingInterval"`
	HttpingInterval   int       `json:"httpingInterval"`
	TextingInterval   int       `json:"textingInterval"`
	MessagingTimeout  int       `json:"messagingTimeout"`
	AliveInterval     int       `json:"aliveInterval"`
	Worker            string    `json:"worker"`
	LogLevel          string    `json:"logLevel"`
	LogFormat         string    `json:"logFormat"`
	LogDir            string    `json:"logDir"`
	RunDir            string    `json:"runDir"`
	Telemetry         Telemetry `json:"telemetry"`

	path     string
	name     string
	props    map[string]json.RawMessage
	warnings []string
	loaded   bool
}

// Load parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := cfg.readFile(expanded); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadNamed resolves a daemon name to its configuration file and loads it.
func LoadNamed(name string) (*Config, error) {
	path, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Resolve maps a daemon name to <dir>/<name>.json, searching the directory
// named by WARDEN_CONFIG_DIR first, then the default config directory.
func Resolve(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("daemon name is required")
	}
	var dirs []string
	if env := strings.TrimSpace(os.Getenv("WARDEN_CONFIG_DIR")); env != "" {
		dirs = append(dirs, env)
	}
	defaultDir, err := DefaultConfigDir()
	if err == nil {
		dirs = append(dirs, defaultDir)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, trimmed+".json")
		info, statErr := os.Stat(candidate)
		if statErr == nil && !info.IsDir() {
			return candidate, nil
		}
		if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
			return "", fmt.Errorf("stat config %q: %w", candidate, statErr)
		}
	}
	return "", fmt.Errorf("%w: daemon %q (searched %s)", ErrNoConfig, trimmed, strings.Join(dirs, ", "))
}

// DefaultConfigDir returns the directory searched for named daemon configs.
func DefaultConfigDir() (string, error) {
	return expandPath("~/.config/warden")
}

// Reload re-reads the configuration file in place. The receiver is only
// modified when the new file parses and validates; on failure the previous
// values remain active and the error is returned.
func (c *Config) Reload() error {
	if c.path == "" {
		return errors.New("config was not loaded from a file")
	}
	fresh, err := Load(c.path)
	if err != nil {
		return err
	}
	if fresh.ListeningPort != c.ListeningPort {
		return fmt.Errorf("listeningPort changed from %d to %d; restart required", c.ListeningPort, fresh.ListeningPort)
	}
	*c = *fresh
	return nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	plain := jsonc.ToJSON(data)
	if err := json.Unmarshal(plain, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	props := map[string]json.RawMessage{}
	if err := json.Unmarshal(plain, &props); err != nil {
		return fmt.Errorf("parse config properties %s: %w", path, err)
	}
	c.props = props
	c.path = path
	c.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	c.loaded = true
	return nil
}

// Path returns the file this configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Name returns the daemon name derived from the config file basename.
func (c *Config) Name() string { return c.name }

// Loaded reports whether the configuration was read from a file.
func (c *Config) Loaded() bool { return c.loaded }

// Warnings returns normalization warnings (interval clamps) collected
// during the last load. Callers are expected to log them.
func (c *Config) Warnings() []string { return c.warnings }

// Prop returns the raw JSON value for an arbitrary daemon-specific key.
func (c *Config) Prop(key string) (json.RawMessage, bool) {
	raw, ok := c.props[key]
	return raw, ok
}

// StringProp returns a daemon-specific string property or fallback.
func (c *Config) StringProp(key, fallback string) string {
	raw, ok := c.props[key]
	if !ok {
		return fallback
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return fallback
	}
	return value
}

// IntProp returns a daemon-specific integer property or fallback.
func (c *Config) IntProp(key string, fallback int) int {
	raw, ok := c.props[key]
	if !ok {
		return fallback
	}
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		return fallback
	}
	return value
}

// StringsProp returns a daemon-specific string list property.
func (c *Config) StringsProp(key string) []string {
	raw, ok := c.props[key]
	if !ok {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

// ListeningTick returns the control socket accept timeout.
func (c *Config) ListeningTick() time.Duration {
	return time.Duration(c.ListeningInterval) * time.Millisecond
}

// MessagingTick returns the bus sink interval, zero when disabled.
func (c *Config) MessagingTick() time.Duration { return sinkTick(c.MessagingInterval) }

// HttpingTick returns the HTTP push sink interval, zero when disabled.
func (c *Config) HttpingTick() time.Duration { return sinkTick(c.HttpingInterval) }

// TextingTick returns the text sink interval, zero when disabled.
func (c *Config) TextingTick() time.Duration { return sinkTick(c.TextingInterval) }

// AliveTick returns the liveness publication interval, zero when disabled.
func (c *Config) AliveTick() time.Duration { return sinkTick(c.AliveInterval) }

// MessagingDeadline returns the bus operation timeout.
func (c *Config) MessagingDeadline() time.Duration {
	return time.Duration(c.MessagingTimeout) * time.Second
}

func sinkTick(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) normalize() {
	c.warnings = nil
	if c.ListeningInterval < minListeningInterval {
		c.warnings = append(c.warnings, fmt.Sprintf(
			"listeningInterval %d ms below minimum, clamped to %d ms", c.ListeningInterval, minListeningInterval))
		c.ListeningInterval = minListeningInterval
	}
	c.MessagingInterval = clampSink(&c.warnings, "messagingInterval", c.MessagingInterval)
	c.HttpingInterval = clampSink(&c.warnings, "httpingInterval", c.HttpingInterval)
	c.TextingInterval = clampSink(&c.warnings, "textingInterval", c.TextingInterval)
	c.AliveInterval = clampSink(&c.warnings, "aliveInterval", c.AliveInterval)
	if c.MessagingTimeout <= 0 {
		c.MessagingTimeout = defaultMessagingTimeout
	}
	if strings.TrimSpace(c.Telemetry.BusBucket) == "" {
		c.Telemetry.BusBucket = defaultBusBucket
	}
}

// clampSink leaves non-positive values alone (disabled) and raises short
// intervals to the sink minimum.
func clampSink(warnings *[]string, key string, ms int) int {
	if ms <= 0 {
		return ms
	}
	if ms < minSinkInterval {
		*warnings = append(*warnings, fmt.Sprintf(
			"%s %d ms below minimum, clamped to %d ms", key, ms, minSinkInterval))
		return minSinkInterval
	}
	return ms
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
