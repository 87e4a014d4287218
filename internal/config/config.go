package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type BasicConfig struct {
	ServerAddress      string `json:"server_address"`
	HistoryPath        string `json:"history_path"`
	FileBaseDir        string `json:"file_base_dir"`
	TempFileTTL        int    `json:"temp_file_ttl_minutes"`
	TempCleanInterval  int    `json:"temp_clean_interval_minutes"`
	DocumentContextCap int    `json:"document_context_cap"`
	DefaultLanguage    string `json:"default_language"`
}

// DefaultDocumentContextCap bounds extracted document text sent per exchange.
const DefaultDocumentContextCap = 5000

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.BasicConfig.HistoryPath == "" {
		cfg.BasicConfig.HistoryPath = "chat_history.json"
	}
	if !filepath.IsAbs(cfg.BasicConfig.HistoryPath) {
		cfg.BasicConfig.HistoryPath = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.HistoryPath)
	}
	if cfg.BasicConfig.DocumentContextCap <= 0 {
		cfg.BasicConfig.DocumentContextCap = DefaultDocumentContextCap
	}

	return &cfg, nil
}
