// Package config loads the bridge's TOML configuration. Every validation
// failure names the offending config path so the operator can fix the file
// without guessing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the parsed takopi.toml.
type Config struct {
	Transport        string             `mapstructure:"transport"`
	DefaultEngine    string             `mapstructure:"default_engine"`
	DefaultWorkspace string             `mapstructure:"default_workspace"`
	Workspaces       map[string]string  `mapstructure:"workspaces"`
	Transports       TransportsConfig   `mapstructure:"transports"`
	Projects         map[string]Project `mapstructure:"projects"`
	Audit            AuditConfig        `mapstructure:"audit"`
	Transcribe       TranscribeConfig   `mapstructure:"transcribe"`

	// Engines carries per-engine passthrough tables, e.g. [codex] model =
	// "gpt-5.2". Keys the bridge does not know are handed to the runner
	// untouched.
	Engines map[string]EngineConfig `mapstructure:"-"`

	// Path is where the config was loaded from.
	Path string `mapstructure:"-"`
}

type TransportsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	BotToken              string  `mapstructure:"bot_token"`
	ChatID                int64   `mapstructure:"chat_id"`
	ModeDiscoveryTimeoutS float64 `mapstructure:"mode_discovery_timeout_s"`
}

// ModeDiscoveryTimeout returns the configured discovery window.
func (t TelegramConfig) ModeDiscoveryTimeout() time.Duration {
	return time.Duration(t.ModeDiscoveryTimeoutS * float64(time.Second))
}

// Project is one registered repository the bridge can work in.
type Project struct {
	Path          string `mapstructure:"path"`
	WorktreesDir  string `mapstructure:"worktrees_dir"`
	DefaultEngine string `mapstructure:"default_engine"`
	ChatID        int64  `mapstructure:"chat_id"`
}

type AuditConfig struct {
	Path    string `mapstructure:"path"`
	MaxText int    `mapstructure:"max_text"`
}

type TranscribeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// EngineConfig is the passthrough option table for one engine.
type EngineConfig struct {
	Model  string   `mapstructure:"model"`
	Effort string   `mapstructure:"effort"`
	Mode   string   `mapstructure:"mode"`
	Args   []string `mapstructure:"args"`
}

// knownEngines are the table names treated as engine passthrough blocks.
var knownEngines = []string{"claude", "codex", "opencode", "cursor", "pi"}

// reservedTables are top-level tables that are never engine blocks.
var reservedTables = map[string]bool{
	"transports": true, "workspaces": true, "projects": true,
	"audit": true, "transcribe": true,
}

// DefaultPath returns ~/.config/takopi/takopi.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "takopi", "takopi.toml"), nil
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("transport", "telegram")
	v.SetDefault("default_engine", "codex")
	v.SetDefault("transports.telegram.mode_discovery_timeout_s", 2.0)
	v.SetDefault("audit.max_text", 1000)
	v.SetDefault("transcribe.base_url", "https://api.openai.com/v1")
	v.SetDefault("transcribe.model", "whisper-1")

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s does not exist (create it, or pass --config)", path)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path

	cfg.Engines = make(map[string]EngineConfig)
	for _, name := range knownEngines {
		if !v.IsSet(name) || reservedTables[name] {
			continue
		}
		var ec EngineConfig
		if err := v.UnmarshalKey(name, &ec); err != nil {
			return nil, fmt.Errorf("parse engine table %q in %s: %w", name, path, err)
		}
		cfg.Engines[name] = ec
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Transport != "telegram" {
		return fmt.Errorf("%s: transport: unsupported transport %q (only \"telegram\")", c.Path, c.Transport)
	}
	if c.Transports.Telegram.BotToken == "" {
		return fmt.Errorf("%s: transports.telegram.bot_token is required", c.Path)
	}
	if c.Transports.Telegram.ChatID == 0 {
		return fmt.Errorf("%s: transports.telegram.chat_id is required", c.Path)
	}

	for name, raw := range c.Workspaces {
		if raw == "" {
			return fmt.Errorf("%s: workspaces.%s: path must be a non-empty string", c.Path, name)
		}
		expanded, err := ExpandHome(raw)
		if err != nil {
			return fmt.Errorf("%s: workspaces.%s: %w", c.Path, name, err)
		}
		c.Workspaces[name] = expanded
	}
	if c.DefaultWorkspace != "" {
		if _, ok := c.Workspaces[c.DefaultWorkspace]; !ok {
			return fmt.Errorf("%s: default_workspace: unknown workspace %q", c.Path, c.DefaultWorkspace)
		}
	}

	for alias, project := range c.Projects {
		if project.Path == "" {
			return fmt.Errorf("%s: projects.%s.path is required", c.Path, alias)
		}
		expanded, err := ExpandHome(project.Path)
		if err != nil {
			return fmt.Errorf("%s: projects.%s.path: %w", c.Path, alias, err)
		}
		project.Path = expanded
		if project.WorktreesDir != "" {
			if project.WorktreesDir, err = ExpandHome(project.WorktreesDir); err != nil {
				return fmt.Errorf("%s: projects.%s.worktrees_dir: %w", c.Path, alias, err)
			}
		}
		c.Projects[alias] = project
	}
	return nil
}

// ValidateWorkspacePaths checks that every workspace directory exists. Kept
// separate from Load so tests and dry runs can skip the filesystem check.
func (c *Config) ValidateWorkspacePaths() error {
	for name, path := range c.Workspaces {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%s: workspaces.%s: path %s does not exist", c.Path, name, path)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: workspaces.%s: path %s is not a directory", c.Path, name, path)
		}
	}
	return nil
}

// WorkspacePath resolves a workspace name, falling back to the default.
func (c *Config) WorkspacePath(name string) (string, error) {
	if name == "" {
		name = c.DefaultWorkspace
	}
	if name == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return wd, nil
	}
	path, ok := c.Workspaces[name]
	if !ok {
		return "", fmt.Errorf("unknown workspace %q", name)
	}
	return path, nil
}

// ExpandHome resolves a leading "~" against the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	if strings.HasPrefix(path, "~") {
		return "", fmt.Errorf("cannot expand %q (only bare ~ is supported)", path)
	}
	return path, nil
}
