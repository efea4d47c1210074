// Package config loads the YAML configuration file. Values support
// ${VAR} and ${VAR:-default} environment expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	DBPath   string `yaml:"db_path"`
	IndexDir string `yaml:"index_dir"`

	Buffer struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"buffer"`

	Chunking struct {
		MaxSize int `yaml:"max_size"`
		Overlap int `yaml:"overlap"`
	} `yaml:"chunking"`

	Embedding struct {
		Provider     string `yaml:"provider"` // mock, ollama, openai
		BaseURL      string `yaml:"base_url"`
		APIKey       string `yaml:"api_key"`
		Model        string `yaml:"model"`
		Dims         int    `yaml:"dims"`
		CacheEntries int    `yaml:"cache_entries"`
	} `yaml:"embedding"`

	Pipeline struct {
		Workers      int      `yaml:"workers"`
		QueueSize    int      `yaml:"queue_size"`
		EmbedTimeout Duration `yaml:"embed_timeout"`
	} `yaml:"pipeline"`

	Search struct {
		Limit int `yaml:"limit"`
	} `yaml:"search"`

	Facts struct {
		MinConfidence float64 `yaml:"min_confidence"`
	} `yaml:"facts"`

	Session struct {
		Resume bool `yaml:"resume"`
	} `yaml:"session"`

	Daemon struct {
		Listen          string `yaml:"listen"`
		ReindexSchedule string `yaml:"reindex_schedule"`
	} `yaml:"daemon"`

	Log struct {
		Debug  bool   `yaml:"debug"`
		Format string `yaml:"format"` // pretty, json, text
	} `yaml:"log"`
}

// Duration wraps time.Duration so YAML values like "10s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg.DBPath = filepath.Join(home, ".anorix", "anorix.db")
	cfg.IndexDir = filepath.Join(home, ".anorix", "index")
	cfg.Buffer.Capacity = 10
	cfg.Chunking.MaxSize = 500
	cfg.Chunking.Overlap = 50
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Embedding.CacheEntries = 4096
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.QueueSize = 128
	cfg.Pipeline.EmbedTimeout = Duration(10 * time.Second)
	cfg.Search.Limit = 5
	cfg.Facts.MinConfidence = 0.0
	cfg.Session.Resume = true
	cfg.Daemon.Listen = "127.0.0.1:9464"
	cfg.Daemon.ReindexSchedule = "@every 5m"
	cfg.Log.Format = "pretty"
	return cfg
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file over the defaults, expanding
// environment variables first.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Embedding.Provider {
	case "mock", "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	switch c.Log.Format {
	case "", "pretty", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Buffer.Capacity < 0 {
		errs = append(errs, fmt.Errorf("buffer capacity must not be negative"))
	}
	if c.Facts.MinConfidence < 0 || c.Facts.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("facts min_confidence must be in [0,1]"))
	}
	return errors.Join(errs...)
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML
// bytes. It returns an error listing all unresolved variables.
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil
		defaultVal := ""
		if hasDefault {
			defaultVal = string(subs[2])
		}

		value, ok := os.LookupEnv(name)
		if ok {
			return []byte(value)
		}

		if hasDefault {
			return []byte(defaultVal)
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
