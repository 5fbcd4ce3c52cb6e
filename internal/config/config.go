// Package config loads daemon configuration from defaults, an optional
// YAML file, and COURSEMATE_* environment variables, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Hosted   HostedConfig   `yaml:"hosted"`
	Storage  StorageConfig  `yaml:"storage"`
	Splitter SplitterConfig `yaml:"splitter"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	MCPPort   int    `yaml:"mcp_port"`
	AuthToken string `yaml:"auth_token"` // empty disables bearer auth
}

type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
	EmbedDim   int    `yaml:"embed_dim"`
}

// HostedConfig points at an OpenAI-compatible completion API. An empty
// APIKey leaves the hosted backend disabled.
type HostedConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type SplitterConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.2",
			EmbedModel: "nomic-embed-text",
			EmbedDim:   768,
		},
		Hosted: HostedConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "deepseek/deepseek-chat",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Splitter: SplitterConfig{
			ChunkSize: 800,
			Overlap:   100,
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "coursemate-data"
		}
	}
	return filepath.Join(dir, "coursemate")
}

// DefaultPath is where Load looks for a config file when none is given.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "coursemate", "config.yaml")
}

// Load builds the configuration. An explicitly named file must exist; the
// default path is optional.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No file, defaults apply.
	default:
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Splitter.Overlap >= cfg.Splitter.ChunkSize {
		return Config{}, fmt.Errorf("splitter overlap %d must be smaller than chunk size %d",
			cfg.Splitter.Overlap, cfg.Splitter.ChunkSize)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envStr("COURSEMATE_AUTH_TOKEN", &cfg.Server.AuthToken)
	envInt("COURSEMATE_PORT", &cfg.Server.Port)
	envInt("COURSEMATE_MCP_PORT", &cfg.Server.MCPPort)
	envStr("COURSEMATE_OLLAMA_URL", &cfg.Ollama.BaseURL)
	envStr("COURSEMATE_MODEL", &cfg.Ollama.Model)
	envStr("COURSEMATE_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	envInt("COURSEMATE_EMBED_DIM", &cfg.Ollama.EmbedDim)
	envStr("COURSEMATE_HOSTED_URL", &cfg.Hosted.BaseURL)
	envStr("COURSEMATE_HOSTED_API_KEY", &cfg.Hosted.APIKey)
	envStr("COURSEMATE_HOSTED_MODEL", &cfg.Hosted.Model)
	envStr("COURSEMATE_DATA_DIR", &cfg.Storage.DataDir)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// IndexRoot is the scope root holding per-partition index directories.
func (c Config) IndexRoot() string {
	return filepath.Join(c.Storage.DataDir, "indexes")
}

// PIDFile is where the running daemon records its process ID.
func (c Config) PIDFile() string {
	return filepath.Join(c.Storage.DataDir, "coursemate.pid")
}
