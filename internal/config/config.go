package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

// BackendConfig points at the document/retrieval server. An empty URL is not
// a startup error: operations that need it fail individually instead.
type BackendConfig struct {
	DocServerURL string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Backend: BackendConfig{
			DocServerURL: "",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "mistral",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/ragdesk/config.json, then applies RAGDESK_* environment
// variable overrides. Missing file and missing keys fall back to defaults.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "ragdesk-data"
		}
	}
	return filepath.Join(dir, "ragdesk")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "ragdesk", "config.json")
}
