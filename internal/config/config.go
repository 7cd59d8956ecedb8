package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const FileName = "filigree.yml"

// Config models filigree.yml.
type Config struct {
	Project struct {
		Prefix string `yaml:"prefix" json:"prefix"`
	} `yaml:"project" json:"project"`
	Storage struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"storage" json:"storage"`
	Workflow struct {
		EnabledPacks []string `yaml:"enabled_packs" json:"enabled_packs"`
		PacksDir     string   `yaml:"packs_dir" json:"packs_dir"`
		TemplatesDir string   `yaml:"templates_dir" json:"templates_dir"`
		Watch        bool     `yaml:"watch" json:"watch"`
	} `yaml:"workflow" json:"workflow"`
	Logging struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"logging" json:"logging"`
	Server struct {
		Addr             string `yaml:"addr" json:"addr"`
		BasePath         string `yaml:"base_path" json:"base_path"`
		JWTSecret        string `yaml:"jwt_secret" json:"-"`
		AllowActorHeader bool   `yaml:"allow_actor_header" json:"allow_actor_header"`
	} `yaml:"server" json:"server"`
}

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9]{0,15}$`)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !prefixPattern.MatchString(c.Project.Prefix) {
		return fmt.Errorf("config.project.prefix must match %s", prefixPattern.String())
	}
	seen := map[string]bool{}
	for _, p := range c.Workflow.EnabledPacks {
		if p == "" {
			return fmt.Errorf("config.workflow.enabled_packs contains an empty name")
		}
		if seen[p] {
			return fmt.Errorf("config.workflow.enabled_packs lists %s twice", p)
		}
		seen[p] = true
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "", "text", "logfmt", "json":
	default:
		return fmt.Errorf("config.logging.format must be text, logfmt or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the config used when a workspace has no filigree.yml.
func Default() *Config {
	var cfg Config
	cfg.Project.Prefix = "fg"
	cfg.Workflow.EnabledPacks = []string{"core", "planning"}
	cfg.Workflow.PacksDir = ".filigree/packs"
	cfg.Workflow.TemplatesDir = ".filigree/templates"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	return &cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found; run filigree init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write stores cfg as filigree.yml in workspace.
func Write(workspace string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

// Resolve makes a workspace-relative path absolute against workspace.
func Resolve(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}
