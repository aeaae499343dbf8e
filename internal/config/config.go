// Package config loads the engine configuration from YAML, with environment
// variable expansion so tokens and paths can stay out of the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server    Server              `yaml:"server"`
	Engine    Engine              `yaml:"engine"`
	Kernel    Kernel              `yaml:"kernel"`
	Watcher   Watcher             `yaml:"watcher"`
	Languages map[string]Language `yaml:"languages"`
}

// Server configures the realtime server.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Engine configures execution behavior.
type Engine struct {
	// WorkDir is the working directory for interpreter subprocesses and
	// the workspace watcher.
	WorkDir string `yaml:"work_dir"`

	// AutoRun skips the confirmation gate and executes immediately.
	AutoRun bool `yaml:"auto_run"`
}

// Kernel configures the optional Jupyter kernel gateway strategy.
type Kernel struct {
	Enabled    bool   `yaml:"enabled"`
	GatewayURL string `yaml:"gateway_url"`
	Token      string `yaml:"token"`
	KernelName string `yaml:"kernel_name"`

	// Language is the identifier the kernel session registers under.
	Language string `yaml:"language"`
}

// Watcher configures the workspace file watcher.
type Watcher struct {
	Enabled bool `yaml:"enabled"`
}

// Language overrides how one language's interpreter is launched.
type Language struct {
	// Command replaces the built-in interpreter command line, e.g.
	// ["python3.12", "-i", "-q", "-u"].
	Command []string `yaml:"command"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Engine: Engine{
			WorkDir: ".",
		},
		Kernel: Kernel{
			KernelName: "python3",
			Language:   "python-kernel",
		},
		Watcher: Watcher{
			Enabled: true,
		},
	}
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment before parsing. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Kernel.Enabled && c.Kernel.GatewayURL == "" {
		return fmt.Errorf("kernel.gateway_url required when kernel is enabled")
	}
	if c.Engine.WorkDir == "" {
		c.Engine.WorkDir = "."
	}
	for name, lang := range c.Languages {
		if len(lang.Command) == 0 {
			return fmt.Errorf("languages.%s.command must not be empty", name)
		}
	}
	return nil
}

// Addr returns the listen address for the realtime server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
