// Package config loads the calt daemon configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, CALT_*
// environment variables, then command-line flags (applied by the CLI).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/calt/internal/gate"
	"github.com/roach88/calt/internal/redact"
	"github.com/roach88/calt/internal/tools"
)

// Environment variables that override file values.
const (
	EnvToken    = "CALT_TOKEN"
	EnvDBPath   = "CALT_DB_PATH"
	EnvDataRoot = "CALT_DATA_ROOT"
	EnvListen   = "CALT_LISTEN"
	EnvConfig   = "CALT_CONFIG"
)

// Defaults.
const (
	DefaultDBPath = "data/calt.sqlite3"
	DefaultListen = "127.0.0.1:8000"
)

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the daemon configuration.
type Config struct {
	DBPath    string    `yaml:"db_path"`
	DataRoot  string    `yaml:"data_root"`
	Listen    string    `yaml:"listen"`
	Token     string    `yaml:"token"`
	Redaction Redaction `yaml:"redaction"`
	Isolation Isolation `yaml:"isolation"`
	Execution Execution `yaml:"execution"`
	Shell     Shell     `yaml:"shell"`
}

// Redaction configures secret scrubbing. Empty lists use the built-in rules.
type Redaction struct {
	KeyPatterns  []string          `yaml:"key_patterns"`
	TextPatterns []redact.TextRule `yaml:"text_patterns"`
	Marker       string            `yaml:"marker"`
}

// Isolation configures how the daemon decides it runs inside a container.
type Isolation struct {
	Mode          string `yaml:"mode"`
	DockerEnvPath string `yaml:"dockerenv_path"`
	CgroupPath    string `yaml:"cgroup_path"`
}

// Execution configures tool timeouts.
type Execution struct {
	DefaultToolTimeout Duration            `yaml:"default_tool_timeout"`
	ToolTimeouts       map[string]Duration `yaml:"tool_timeouts"`
}

// Shell configures run_shell_readonly.
type Shell struct {
	// Allow replaces the built-in allow-list of command prefixes.
	Allow []string `yaml:"allow"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath: DefaultDBPath,
		Listen: DefaultListen,
		Redaction: Redaction{
			Marker: redact.DefaultMarker,
		},
		Isolation: Isolation{Mode: gate.IsolationAuto},
		Execution: Execution{
			DefaultToolTimeout: Duration(tools.DefaultTimeout),
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. An empty path falls back to $CALT_CONFIG; with neither set,
// only defaults and environment apply.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path == "" {
		path, _ = lookup(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(lookup)
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for env, field := range map[string]*string{
		EnvToken:    &c.Token,
		EnvDBPath:   &c.DBPath,
		EnvDataRoot: &c.DataRoot,
		EnvListen:   &c.Listen,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*field = v
		}
	}
}

// ResolvedDataRoot is DataRoot, or the directory holding the database.
func (c Config) ResolvedDataRoot() string {
	if c.DataRoot != "" {
		return c.DataRoot
	}
	return filepath.Dir(c.DBPath)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	switch c.Isolation.Mode {
	case "", gate.IsolationAuto, gate.IsolationAlways, gate.IsolationNever:
	default:
		errs = append(errs, fmt.Errorf("isolation.mode: unknown mode %q", c.Isolation.Mode))
	}
	if c.Execution.DefaultToolTimeout <= 0 {
		errs = append(errs, errors.New("execution.default_tool_timeout must be positive"))
	}
	for name, d := range c.Execution.ToolTimeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("execution.tool_timeouts.%s must be positive", name))
		}
	}
	for i, p := range c.Redaction.KeyPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("redaction.key_patterns[%d]: %w", i, err))
		}
	}
	for i, r := range c.Redaction.TextPatterns {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("redaction.text_patterns[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Redactor builds the configured redactor.
func (c Config) Redactor() (*redact.Redactor, error) {
	keys := c.Redaction.KeyPatterns
	if len(keys) == 0 {
		keys = redact.DefaultKeyPatterns
	}
	text := c.Redaction.TextPatterns
	if len(text) == 0 {
		text = redact.DefaultTextRules
	}
	return redact.New(keys, text, c.Redaction.Marker)
}

// Probe builds the configured isolation probe.
func (c Config) Probe() (gate.Probe, error) {
	return gate.ProbeFor(c.Isolation.Mode, c.Isolation.DockerEnvPath, c.Isolation.CgroupPath)
}

// BuiltinOptions returns the options for the builtin tool set.
func (c Config) BuiltinOptions() tools.BuiltinOptions {
	opts := tools.BuiltinOptions{
		ShellAllow: c.Shell.Allow,
		Default:    time.Duration(c.Execution.DefaultToolTimeout),
	}
	if len(c.Execution.ToolTimeouts) > 0 {
		opts.Timeouts = make(map[string]time.Duration, len(c.Execution.ToolTimeouts))
		for name, d := range c.Execution.ToolTimeouts {
			opts.Timeouts[name] = time.Duration(d)
		}
	}
	return opts
}
