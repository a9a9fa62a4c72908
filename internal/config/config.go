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
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
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
	ServerAddress string `json:"server_address"`
	BlobBaseDir   string `json:"blob_base_dir"`
	// Rendezvous session lifetime and sweep cadence, in minutes.
	SessionTTL    int `json:"session_ttl"`
	SweepInterval int `json:"sweep_interval"`
	// Default AI provider used for analysis and text extraction.
	Provider string `json:"provider"`
	// Analysis worker pool sizing.
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"`
	// Upload size cap per image, in MB.
	MaxUploadMB int `json:"max_upload_mb"`
}

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

	if cfg.BasicConfig.BlobBaseDir != "" && !filepath.IsAbs(cfg.BasicConfig.BlobBaseDir) {
		cfg.BasicConfig.BlobBaseDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.BlobBaseDir)
	}
	for name, dbCfg := range cfg.Databases {
		if dbCfg.DSN != "" && dbCfg.Host == "" && !filepath.IsAbs(dbCfg.DSN) && dbCfg.DSN != ":memory:" {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	return &cfg, nil
}
