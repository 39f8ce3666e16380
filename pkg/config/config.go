// Package config loads the corelink configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kiosklab/corelink/pkg/desk"
	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/kiosklab/corelink/pkg/insight"
	"github.com/kiosklab/corelink/pkg/loans"
	"github.com/kiosklab/corelink/pkg/upstream"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFile            = "corelink.yaml"
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

type Config struct {
	BaseDir string `yaml:"-"` // directory of the loaded file, relative paths resolve against it

	DNA      dna.Config      `yaml:"dna"`
	Loans    *loans.Config   `yaml:"loans,omitempty" validate:"omitempty"`
	Database DatabaseConfig  `yaml:"database"`
	Cache    desk.Config     `yaml:"cache"`
	Prefetch PrefetchConfig  `yaml:"prefetch"`
	Insights *insight.Config `yaml:"insights,omitempty" validate:"omitempty"`
	Archive  ArchiveConfig   `yaml:"archive"`
	HTTP     HTTPConfig      `yaml:"http"`
}

// DatabaseConfig selects the queue store. Without a DSN the queue is kept in
// memory.
type DatabaseConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type PrefetchConfig struct {
	Workers  int           `yaml:"workers" validate:"gte=0,lte=64"`
	Cooldown time.Duration `yaml:"cooldown" validate:"gte=0"`
}

type ArchiveConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"` // defaults to the XDG state directory
	MaxAge  time.Duration `yaml:"max_age" validate:"gte=0"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Desk returns the desk service configuration assembled from the cache and
// prefetch sections.
func (c *Config) Desk() desk.Config {
	d := c.Cache
	d.PrefetchWorkers = c.Prefetch.Workers
	d.PrefetchCooldown = c.Prefetch.Cooldown
	return d
}

// LoadConfigFile reads path, expands ${VAR} references from the environment
// and validates the result.
func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	cfg, err := Parse([]byte(os.ExpandEnv(string(content))))
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = filepath.Dir(path)
	cfg.resolvePaths()
	return cfg, nil
}

// Parse decodes and validates an already expanded document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths() {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.BaseDir, *p)
		}
	}
	tls := []*upstream.TLSConfig{&c.DNA.TLS}
	if c.Loans != nil {
		tls = append(tls, &c.Loans.TLS)
	}
	for _, t := range tls {
		resolve(&t.CAFile)
	}
	resolve(&c.Archive.Path)
}
