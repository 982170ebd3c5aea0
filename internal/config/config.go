// Package config loads the eventdb configuration file.
//
// Files are YAML (.yaml, .yml) or TOML (.toml). Values start from Default,
// the file overrides them, ${VAR} references are expanded from the
// environment, and the result is checked against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/eventdb/internal/gate"
)

//go:embed schema.cue
var schemaCUE string

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the eventdb configuration.
type Config struct {
	BaseDir    string  `json:"baseDir" yaml:"baseDir" toml:"baseDir"`
	StoreName  string  `json:"storeName" yaml:"storeName" toml:"storeName"`
	MaxRetries int     `json:"maxRetries" yaml:"maxRetries" toml:"maxRetries"`
	Logging    Logging `json:"logging" yaml:"logging" toml:"logging"`
}

// Logging configures the process logger.
type Logging struct {
	Level string `json:"level" yaml:"level" toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BaseDir:    "data",
		StoreName:  "events",
		MaxRetries: gate.DefaultMaxRetries,
		Logging:    Logging{Level: "info"},
	}
}

// Load reads the file at path over Default and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(expanded, &cfg)
	case ".toml":
		err = decodeTOML(expanded, &cfg)
	default:
		return Config{}, fmt.Errorf("reading config file: unsupported extension %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(data string, cfg *Config) error {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeTOML(data string, cfg *Config) error {
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown fields: %s", strings.Join(keys, ", "))
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// Validate checks the configuration against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// String renders the configuration as YAML.
func (c Config) String() string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		type plain Config
		return fmt.Sprintf("%+v", plain(c))
	}
	enc.Close()
	return buf.String()
}
