package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig                   `yaml:"app"`
	Gateways     map[string]GatewayConfig    `yaml:"gateways"`
	Providers    map[string]ProviderConfig   `yaml:"providers"`
	Capabilities map[string]CapabilityConfig `yaml:"capabilities"`
	Resources    ResourceConfig              `yaml:"resources"`
	Timeouts     TimeoutConfig               `yaml:"timeouts"`
	Memory       MemoryConfig                `yaml:"memory"`
	RAG          RAGConfig                   `yaml:"rag"`
	Policy       PolicyConfig                `yaml:"policy"`
}

type AppConfig struct {
	Name       string   `yaml:"name"`
	Workspace  string   `yaml:"workspace"`
	Prompts    string   `yaml:"prompts"`
	AdminUsers []string `yaml:"admin_users"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

// CapabilityConfig configures the backend of one capability. Empty fields
// fall back to the main-brain provider's credentials.
type CapabilityConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Voice   string `yaml:"voice,omitempty"`
}

type ResourceConfig struct {
	AlwaysResident []string `yaml:"always_resident"`
	LoadTimeout    Duration `yaml:"load_timeout"`
}

type TimeoutConfig struct {
	Oracle   Duration `yaml:"oracle"`
	Tool     Duration `yaml:"tool"`
	Memory   Duration `yaml:"memory"`
	Provider Duration `yaml:"provider"`
}

type MemoryConfig struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	HistorySize   int    `yaml:"history_size"`
	MaxUsers      int    `yaml:"max_users"`
	RetrieveLimit int    `yaml:"retrieve_limit"`
}

type RAGConfig struct {
	QdrantURL      string `yaml:"qdrant_url"`
	APIKey         string `yaml:"api_key"`
	Collection     string `yaml:"collection"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// PolicyConfig lists the tool-call rules enforced by the registry.
// ToolArguments maps a tool name to patterns denied for that tool only.
type PolicyConfig struct {
	DenyTools     []string            `yaml:"deny_tools"`
	AdminTools    []string            `yaml:"admin_tools"`
	DenyPatterns  []string            `yaml:"deny_patterns"`
	ToolArguments map[string][]string `yaml:"tool_arguments"`
}

// Duration decodes Go duration strings ("30s", "2m") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
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

// Load reads and decodes the YAML file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.expandEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "switchboard"
	}
	if c.App.Workspace == "" {
		c.App.Workspace = "./workspace"
	}
	if c.App.Prompts == "" {
		c.App.Prompts = "./prompts"
	}
	if len(c.Resources.AlwaysResident) == 0 {
		c.Resources.AlwaysResident = []string{"text"}
	}
	if c.Resources.LoadTimeout == 0 {
		c.Resources.LoadTimeout = Duration(2 * time.Minute)
	}
	if c.Timeouts.Oracle == 0 {
		c.Timeouts.Oracle = Duration(60 * time.Second)
	}
	if c.Timeouts.Tool == 0 {
		c.Timeouts.Tool = Duration(30 * time.Second)
	}
	if c.Timeouts.Memory == 0 {
		c.Timeouts.Memory = Duration(5 * time.Second)
	}
	if c.Timeouts.Provider == 0 {
		c.Timeouts.Provider = Duration(90 * time.Second)
	}

	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "switchboard.db"
	}
	if c.Memory.HistorySize <= 0 {
		c.Memory.HistorySize = 5
	}
	if c.Memory.MaxUsers <= 0 {
		c.Memory.MaxUsers = 256
	}
	if c.Memory.RetrieveLimit <= 0 {
		c.Memory.RetrieveLimit = 3
	}
	if c.RAG.Collection == "" {
		c.RAG.Collection = "switchboard"
	}
	if c.RAG.EmbeddingModel == "" {
		c.RAG.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Policy.AdminTools == nil {
		c.Policy.AdminTools = []string{"shell", "system"}
	}
	if c.Policy.DenyPatterns == nil {
		c.Policy.DenyPatterns = []string{`rm\s+-rf`, `mkfs`, `shutdown`, `reboot`}
	}
}

func (c *Config) expandEnv() {
	for name, p := range c.Providers {
		p.APIKey = os.ExpandEnv(p.APIKey)
		c.Providers[name] = p
	}
	for name, g := range c.Gateways {
		g.Token = os.ExpandEnv(g.Token)
		c.Gateways[name] = g
	}
	for name, cp := range c.Capabilities {
		cp.APIKey = os.ExpandEnv(cp.APIKey)
		c.Capabilities[name] = cp
	}
	c.RAG.APIKey = os.ExpandEnv(c.RAG.APIKey)
}

// GetDefaultProvider returns the first enabled provider, ordered by name so
// the choice is stable across runs.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGatewayConfig returns the named gateway config if it is enabled and has a token.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.GetGatewayConfig("telegram")
}

// CapabilityEnabled reports whether a capability may be loaded. The text
// capability is backed by the main brain and is always enabled.
func (c *Config) CapabilityEnabled(name string) bool {
	if name == "text" {
		return true
	}
	return c.Capabilities[name].Enabled
}

// IsAdmin reports whether userID is listed in app.admin_users.
func (c *Config) IsAdmin(userID string) bool {
	for _, u := range c.App.AdminUsers {
		if u == userID {
			return true
		}
	}
	return false
}
