// Package config loads runtime configuration from a JSON5 file with
// environment-variable overlays. The file is optional; defaults plus env
// vars are enough to run.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/clawcore/internal/permission"
	"github.com/nextlevelbuilder/clawcore/internal/store"
)

// Config is the full runtime configuration.
type Config struct {
	Providers ProvidersConfig   `json:"providers"`
	Agent     AgentConfig       `json:"agent"`
	Workspace WorkspaceConfig   `json:"workspace"`
	Rules     []permission.Rule `json:"rules,omitempty"`
	Store     store.Config      `json:"store"`
	Server    ServerConfig      `json:"server"`
	Telemetry TelemetryConfig   `json:"telemetry"`
	Cron      []CronJobConfig   `json:"cron,omitempty"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type AgentConfig struct {
	Model                string   `json:"model,omitempty"`
	SystemPrompt         string   `json:"systemPrompt,omitempty"`
	MaxIterations        int      `json:"maxIterations,omitempty"`
	MaxRetries           int      `json:"maxRetries,omitempty"`
	MaxOutputTokens      int      `json:"maxOutputTokens,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	ContextWindow        int      `json:"contextWindow,omitempty"`
	CompactionFraction   float64  `json:"compactionFraction,omitempty"`
	ReservedOutputTokens int      `json:"reservedOutputTokens,omitempty"`
	AutoCompact          bool     `json:"autoCompact"`
	CompactionModel      string   `json:"compactionModel,omitempty"`
}

type WorkspaceConfig struct {
	Root               string `json:"root,omitempty"`
	AllowExternalPaths bool   `json:"allowExternalPaths"`
}

type ServerConfig struct {
	Host  string `json:"host,omitempty"`
	Port  int    `json:"port,omitempty"`
	Token string `json:"token,omitempty"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"serviceName,omitempty"`
}

// CronJobConfig is one scheduled prompt. Schedule is a cron expression.
type CronJobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Session  string `json:"session,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:                "claude-sonnet-4-5",
			MaxIterations:        50,
			MaxRetries:           3,
			MaxOutputTokens:      8192,
			ContextWindow:        200000,
			CompactionFraction:   0.85,
			ReservedOutputTokens: 8192,
			AutoCompact:          true,
		},
		Workspace: WorkspaceConfig{Root: "."},
		Store:     store.Config{Backend: "file", Dir: "~/.clawcore/sessions"},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Telemetry: TelemetryConfig{ServiceName: "clawcore"},
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "clawcore.json5"
	}
	return filepath.Join(home, ".clawcore", "config.json5")
}

// Load reads the config file at path (JSON5), then overlays env vars. A
// missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnv overlays environment variables. Env always wins over the file.
func (c *Config) applyEnv() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLAWCORE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CLAWCORE_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)

	envStr("CLAWCORE_MODEL", &c.Agent.Model)
	envStr("CLAWCORE_WORKSPACE", &c.Workspace.Root)
	envStr("CLAWCORE_SERVER_TOKEN", &c.Server.Token)
	envStr("CLAWCORE_HOST", &c.Server.Host)
	if v := os.Getenv("CLAWCORE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	envStr("CLAWCORE_STORE_BACKEND", &c.Store.Backend)
	envStr("CLAWCORE_STORE_DIR", &c.Store.Dir)
	envStr("CLAWCORE_SQLITE_PATH", &c.Store.SQLitePath)
	envStr("CLAWCORE_POSTGRES_DSN", &c.Store.PostgresDSN)

	envStr("CLAWCORE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CLAWCORE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CLAWCORE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CLAWCORE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// expandPaths resolves "~/" prefixes in path-valued fields.
func (c *Config) expandPaths() {
	c.Workspace.Root = expandHome(c.Workspace.Root)
	c.Store.Dir = expandHome(c.Store.Dir)
	c.Store.SQLitePath = expandHome(c.Store.SQLitePath)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") && p != "~" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// Ruleset returns the configured permission rules as an ordered ruleset.
func (c *Config) Ruleset() permission.Ruleset {
	return permission.Ruleset(c.Rules)
}

// Hash fingerprints the config for change detection.
func (c *Config) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
