// Package config loads the sidecar host configuration from YAML files and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spamsch/son-of-simon-sub001/internal/logging"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".macbot"

// FileName is the configuration file inside DirName.
const FileName = "sidecar.yaml"

// Environment overrides, applied after every file.
const (
	EnvAgentCommand = "MACBOT_AGENT_COMMAND"
	EnvLogLevel     = "MACBOT_LOG_LEVEL"
	EnvBridgeAddr   = "MACBOT_BRIDGE_ADDR"
	EnvTurnTimeout  = "MACBOT_TURN_TIMEOUT"
)

// Config is the host configuration.
type Config struct {
	Agent  AgentConfig  `yaml:"agent"`
	Log    LogConfig    `yaml:"log"`
	Bridge BridgeConfig `yaml:"bridge"`
	// Files lists the files that were loaded, lowest precedence first.
	Files []string `yaml:"-"`
}

// AgentConfig describes the agent process.
type AgentConfig struct {
	Env         map[string]string `yaml:"env"`
	Command     string            `yaml:"command"`
	WorkDir     string            `yaml:"work_dir"`
	PIDFile     string            `yaml:"pid_file"`
	Args        []string          `yaml:"args"`
	TurnTimeout time.Duration     `yaml:"turn_timeout"`
	MaxLineSize int               `yaml:"max_line_size"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// BridgeConfig controls the websocket bridge.
type BridgeConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Sources says where Load looks. Zero values skip that layer.
type Sources struct {
	LookupEnv func(string) (string, bool)
	HomeDir   string
	WorkDir   string
	Path      string // explicit --config file; must exist
}

// DefaultSources uses the user's home, the working directory and the
// process environment.
func DefaultSources(explicit string) Sources {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()
	return Sources{HomeDir: home, WorkDir: wd, Path: explicit, LookupEnv: os.LookupEnv}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command:     "macbot",
			Args:        []string{"start", "--foreground"},
			MaxLineSize: 8 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
		Bridge: BridgeConfig{
			Addr: "127.0.0.1:8765",
		},
	}
}

// Load layers the user file, the project file, the explicit file and the
// environment over the defaults. Later layers replace the fields they set.
func Load(src Sources) (*Config, error) {
	cfg := Default()

	if src.HomeDir != "" {
		if err := loadIfExists(filepath.Join(src.HomeDir, DirName, FileName), cfg); err != nil {
			return nil, fmt.Errorf("error loading user config: %w", err)
		}
	}
	if src.WorkDir != "" {
		path := filepath.Join(src.WorkDir, DirName, FileName)
		if len(cfg.Files) == 0 || cfg.Files[0] != path {
			if err := loadIfExists(path, cfg); err != nil {
				return nil, fmt.Errorf("error loading project config: %w", err)
			}
		}
	}
	if src.Path != "" {
		if err := loadFromFile(src.Path, cfg); err != nil {
			return nil, fmt.Errorf("error loading config %s: %w", src.Path, err)
		}
	}
	if src.LookupEnv != nil {
		if err := cfg.applyEnv(src.LookupEnv); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadIfExists(path string, cfg *Config) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return loadFromFile(path, cfg)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal only overwrites keys present in the file, which gives the
	// layering. Lists are replaced, not appended.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.Files = append(cfg.Files, path)
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAgentCommand); ok && strings.TrimSpace(v) != "" {
		fields := strings.Fields(v)
		c.Agent.Command = fields[0]
		c.Agent.Args = fields[1:]
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvBridgeAddr); ok && v != "" {
		c.Bridge.Addr = v
	}
	if v, ok := lookup(EnvTurnTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTurnTimeout, err)
		}
		c.Agent.TurnTimeout = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.Command) == "" {
		return errors.New("agent.command must not be empty")
	}
	if c.Agent.TurnTimeout < 0 {
		return fmt.Errorf("agent.turn_timeout must not be negative, got %s", c.Agent.TurnTimeout)
	}
	if c.Agent.MaxLineSize < 0 {
		return fmt.Errorf("agent.max_line_size must not be negative, got %d", c.Agent.MaxLineSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// SameAgent reports whether two configurations start the same agent.
func (c *Config) SameAgent(other *Config) bool {
	a, b := c.Agent, other.Agent
	if a.Command != b.Command || a.WorkDir != b.WorkDir || a.PIDFile != b.PIDFile ||
		a.TurnTimeout != b.TurnTimeout || a.MaxLineSize != b.MaxLineSize {
		return false
	}
	if len(a.Args) != len(b.Args) || len(a.Env) != len(b.Env) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	for k, v := range a.Env {
		if bv, ok := b.Env[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// WatchPaths returns the files whose changes should trigger a reload:
// every candidate location, whether or not it exists yet.
func WatchPaths(src Sources) []string {
	var paths []string
	if src.HomeDir != "" {
		paths = append(paths, filepath.Join(src.HomeDir, DirName, FileName))
	}
	if src.WorkDir != "" {
		p := filepath.Join(src.WorkDir, DirName, FileName)
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	if src.Path != "" {
		paths = append(paths, src.Path)
	}
	return paths
}
