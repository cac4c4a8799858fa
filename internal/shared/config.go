package shared

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DefaultMongoURI is used when neither the config file nor MONGO_URI name a
// server.
const DefaultMongoURI = "mongodb://localhost:27017"

type Config struct {
	MongoURI                  string `json:"mongo_uri"`
	Database                  string `json:"database"`
	Collection                string `json:"collection"`
	ScansDir                  string `json:"scans_dir"`
	LogsDir                   string `json:"logs_dir"`
	IndexPath                 string `json:"index_path"`
	MaxRetries                int    `json:"max_retries"`
	RetryDelaySeconds         int    `json:"retry_delay_seconds"`
	ServerSelectionTimeoutSec int    `json:"server_selection_timeout_seconds"`
	ConnectTimeoutSec         int    `json:"connect_timeout_seconds"`
	SocketTimeoutSec          int    `json:"socket_timeout_seconds"`
	ScannerVersion            string `json:"scanner_version"`
	ListenAddr                string `json:"listen_addr"`
	LogLevel                  string `json:"log_level"`
}

// LoadConfig reads a JSON config file. A missing file is not an error: the
// defaults and environment overrides still apply.
func LoadConfig(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(b, &c); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func SaveConfig(path string, c *Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.MongoURI = v
	}
	if v := os.Getenv("HOSTSCAN_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("HOSTSCAN_COLLECTION"); v != "" {
		c.Collection = v
	}
	if v := os.Getenv("HOSTSCAN_SCANS_DIR"); v != "" {
		c.ScansDir = v
	}
	if v := os.Getenv("HOSTSCAN_LOGS_DIR"); v != "" {
		c.LogsDir = v
	}
	if v := os.Getenv("HOSTSCAN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("HOSTSCAN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.MongoURI == "" {
		c.MongoURI = DefaultMongoURI
	}
	if c.Database == "" {
		c.Database = "hostscan"
	}
	if c.Collection == "" {
		c.Collection = "scans"
	}
	if c.ScansDir == "" {
		c.ScansDir = "./scans"
	}
	if c.LogsDir == "" {
		c.LogsDir = "./logs"
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.ScansDir, "index.db")
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelaySeconds <= 0 {
		c.RetryDelaySeconds = 2
	}
	if c.ServerSelectionTimeoutSec <= 0 {
		c.ServerSelectionTimeoutSec = 5
	}
	if c.ConnectTimeoutSec <= 0 {
		c.ConnectTimeoutSec = 10
	}
	if c.SocketTimeoutSec <= 0 {
		c.SocketTimeoutSec = 10
	}
	if c.ScannerVersion == "" {
		c.ScannerVersion = "1.0.0"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8086"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c *Config) ServerSelectionTimeout() time.Duration {
	return time.Duration(c.ServerSelectionTimeoutSec) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

func (c *Config) SocketTimeout() time.Duration {
	return time.Duration(c.SocketTimeoutSec) * time.Second
}
