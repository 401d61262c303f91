// Package config loads process settings with viper, persists the Confluence
// connection as YAML, and manages the credential sealing key file.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/credentials"
)

// EnvPrefix prefixes every environment override, e.g. SPECPIPE_LLM_API_KEY.
const EnvPrefix = "SPECPIPE"

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "config.yaml"

// Config holds the process settings.
type Config struct {
	DatabaseFile   string        `yaml:"dbfile"`
	ConnectionFile string        `yaml:"connection_file"`
	KeyFile        string        `yaml:"key_file"`
	LogFormat      string        `yaml:"log_format"`
	LogLevel       string        `yaml:"log_level"`
	HTTPAddr       string        `yaml:"http_addr"`
	RateLimit      int           `yaml:"rate_limit"`
	MaxBodySize    int64         `yaml:"max_body_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Format         string        `yaml:"format"`
	LLM            LLMConfig     `yaml:"llm"`
	Links          LinksConfig   `yaml:"links"`
}

// LLMConfig selects the model endpoint.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	OAuth   bool   `yaml:"oauth"`
}

// LinksConfig tunes link resolution.
type LinksConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	CacheSize     int           `yaml:"cache_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dbfile", "specpipe.db")
	v.SetDefault("connection_file", "connection.yaml")
	v.SetDefault("key_file", "specpipe.key")
	v.SetDefault("log_format", "pretty") // pretty, json, or text
	v.SetDefault("log_level", "info")    // debug, info, warn, error
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("rate_limit", 60) // requests per minute per IP
	v.SetDefault("max_body_size", 8<<20)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("format", "markdown")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.oauth", false)
	v.SetDefault("links.ttl", 30*time.Minute)
	v.SetDefault("links.max_concurrent", 4)
	v.SetDefault("links.cache_size", 500)
}

// Load reads path (DefaultConfigFile when empty) with environment overrides.
// A missing file is created with the defaults, the API key left blank.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	createDefaultConfigFile := false
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		createDefaultConfigFile = true
	}

	cfg := &Config{
		DatabaseFile:   v.GetString("dbfile"),
		ConnectionFile: v.GetString("connection_file"),
		KeyFile:        v.GetString("key_file"),
		LogFormat:      v.GetString("log_format"),
		LogLevel:       v.GetString("log_level"),
		HTTPAddr:       v.GetString("http_addr"),
		RateLimit:      v.GetInt("rate_limit"),
		MaxBodySize:    v.GetInt64("max_body_size"),
		RequestTimeout: v.GetDuration("request_timeout"),
		Format:         v.GetString("format"),
		LLM: LLMConfig{
			APIKey:  v.GetString("llm.api_key"),
			Model:   v.GetString("llm.model"),
			BaseURL: v.GetString("llm.base_url"),
			OAuth:   v.GetBool("llm.oauth"),
		},
		Links: LinksConfig{
			TTL:           v.GetDuration("links.ttl"),
			MaxConcurrent: v.GetInt("links.max_concurrent"),
			CacheSize:     v.GetInt("links.cache_size"),
		},
	}

	if createDefaultConfigFile {
		defaults := *cfg
		defaults.LLM.APIKey = ""
		if err := writeYAML(path, defaults, 0o600); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}
	return cfg, nil
}

// LoadConnection reads the persisted connection. A missing file yields the
// zero (disabled) connection.
func LoadConnection(path string) (confluence.ConnectionConfig, error) {
	var cfg confluence.ConnectionConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read connection: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse connection %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConnection writes cfg to path with owner-only permissions. It refuses
// a TokenRef that is not a secure reference, so a raw token never reaches disk.
func SaveConnection(path string, cfg confluence.ConnectionConfig) error {
	if cfg.TokenRef != "" && !credentials.IsRef(cfg.TokenRef) {
		return fmt.Errorf("save connection: token reference is not a secure reference")
	}
	return writeYAML(path, cfg, 0o600)
}

// LoadOrCreateKey returns the sealing key stored base64-encoded at path,
// generating and writing a new one on first run.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode key file %s: %w", path, err)
		}
		if len(key) != credentials.KeySize {
			return nil, fmt.Errorf("key file %s: want %d bytes, got %d", path, credentials.KeySize, len(key))
		}
		return key, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key, err := credentials.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

func writeYAML(path string, v any, perm os.FileMode) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
