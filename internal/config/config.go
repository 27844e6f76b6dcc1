package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coffersTech/nanolog/datasource/internal/engine"
	"github.com/coffersTech/nanolog/datasource/internal/logging"
)

// Source kinds.
const (
	SourceMock   = "mock"
	SourceStore  = "store"
	SourceRemote = "remote"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Logging logging.Config `yaml:"logging"`
	Engine  engine.Config  `yaml:"engine"`
	Source  SourceConfig   `yaml:"source"`
}

// ServerConfig configures the HTTP host adapter.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // websocket origins; empty allows all
}

// SourceConfig selects and configures the LogSource behind the engine.
type SourceConfig struct {
	Kind   string       `yaml:"kind"` // mock, store or remote
	Mock   MockConfig   `yaml:"mock"`
	Store  StoreConfig  `yaml:"store"`
	Remote RemoteConfig `yaml:"remote"`
}

type MockConfig struct {
	Latency time.Duration `yaml:"latency"`
}

type StoreConfig struct {
	DataDir         string        `yaml:"data_dir"`
	MaxTableRows    int           `yaml:"max_table_rows"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type RemoteConfig struct {
	Nodes   []string      `yaml:"nodes"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: logging.Config{Level: "info", Format: "console"},
		Engine:  engine.DefaultConfig(),
		Source: SourceConfig{
			Kind: SourceMock,
			Mock: MockConfig{Latency: 300 * time.Millisecond},
			Store: StoreConfig{
				DataDir:         "./data",
				MaxTableRows:    10000,
				Retention:       7 * 24 * time.Hour,
				CleanupInterval: time.Hour,
			},
			Remote: RemoteConfig{Timeout: 10 * time.Second},
		},
	}
}

// DecodeStrict decodes YAML from a reader and rejects any unknown fields.
func DecodeStrict(r io.Reader, out interface{}) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads path over Default(). An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := DecodeStrict(f, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
