// Package config loads the kvgate configuration file.
//
// The file is optional. A missing or unreadable file yields the defaults,
// and each invalid field falls back to its default on its own, with the
// fallback logged.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "kvgate.json"

type Config struct {
	Addr              string `json:"addr" yaml:"addr"`
	CollectionPath    string `json:"collection_path" yaml:"collection_path"`
	ChunkSize         int    `json:"chunk_size" yaml:"chunk_size"`
	LogLevel          string `json:"log_level" yaml:"log_level"`
	// SnapshotEncoding is "raw" or "base64". Raw writes values as JSON
	// strings, which is lossy for values that are not valid UTF-8.
	SnapshotEncoding  string `json:"snapshot_encoding" yaml:"snapshot_encoding"`
	ShutdownTimeoutMs int    `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
	WatchJWTSecret    string `json:"watch_jwt_secret" yaml:"watch_jwt_secret"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Addr:              ":5051",
		CollectionPath:    "/api/storage",
		ChunkSize:         64 * 1024,
		LogLevel:          "info",
		SnapshotEncoding:  "raw",
		ShutdownTimeoutMs: 10000,
	}
}

// Load reads path as YAML when it ends in .yaml or .yml and as JSON
// otherwise, then applies environment overrides.
func Load(path string, logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	cfg, err := read(path)
	if err != nil {
		logger.Info("using default configuration", "path", path, "reason", err)
		cfg = Default()
	} else {
		cfg.validate(logger)
	}

	if addr := os.Getenv("KVGATE_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if secret := os.Getenv("KVGATE_WATCH_JWT_SECRET"); secret != "" {
		cfg.WatchJWTSecret = secret
	}
	return cfg
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate(logger *slog.Logger) {
	def := Default()

	if c.Addr == "" {
		c.Addr = def.Addr
	}

	if c.CollectionPath == "" {
		c.CollectionPath = def.CollectionPath
	} else if !strings.HasPrefix(c.CollectionPath, "/") {
		logger.Warn("collection_path does not start with '/', fixing", "collection_path", c.CollectionPath)
		c.CollectionPath = "/" + c.CollectionPath
	}

	if c.ChunkSize <= 0 {
		if c.ChunkSize < 0 {
			logger.Warn("chunk_size is invalid, falling back", "chunk_size", c.ChunkSize, "default", def.ChunkSize)
		}
		c.ChunkSize = def.ChunkSize
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		if c.LogLevel != "" {
			logger.Warn("log_level is invalid, falling back", "log_level", c.LogLevel, "default", def.LogLevel)
		}
		c.LogLevel = def.LogLevel
	}

	switch c.SnapshotEncoding {
	case "raw", "base64":
	case "":
		c.SnapshotEncoding = def.SnapshotEncoding
	default:
		logger.Warn("snapshot_encoding is invalid, falling back",
			"snapshot_encoding", c.SnapshotEncoding, "default", def.SnapshotEncoding)
		c.SnapshotEncoding = def.SnapshotEncoding
	}

	if c.ShutdownTimeoutMs <= 0 {
		c.ShutdownTimeoutMs = def.ShutdownTimeoutMs
	}
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
