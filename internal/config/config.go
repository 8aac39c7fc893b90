package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const appDir = "NotificationInspector"

type Config struct {
	ListenAddr         string `toml:"listen_addr"`
	CaptureEnabled     bool   `toml:"capture_enabled"`
	MaxEvents          int    `toml:"max_events"`
	LogLevel           string `toml:"log_level"`
	LogPath            string `toml:"log_path"`
	ExportPath         string `toml:"export_path"`
	RulesPath          string `toml:"rules_path"`
	RulesURL           string `toml:"rules_url"`
	RulesPollSeconds   int    `toml:"rules_poll_seconds"`
	GatewayURL         string `toml:"gateway_url"`
	GatewayRatePerSec  int    `toml:"gateway_rate_per_sec"`
	StatusCheckSeconds int    `toml:"status_check_seconds"`
}

func baseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appDir)
}

func Default() *Config {
	dir := baseDir()
	return &Config{
		ListenAddr:         "127.0.0.1:7780",
		CaptureEnabled:     true,
		MaxEvents:          500,
		LogLevel:           "info",
		LogPath:            filepath.Join(dir, "agent.log"),
		ExportPath:         filepath.Join(dir, "export.db"),
		RulesPath:          filepath.Join(dir, "rules.yaml"),
		RulesURL:           "",
		RulesPollSeconds:   300,
		GatewayURL:         "",
		GatewayRatePerSec:  2,
		StatusCheckSeconds: 10,
	}
}

// Path returns the config file location, creating its directory.
func Path() (string, error) {
	dir := baseDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file, writing one with defaults on first run.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		enc := toml.NewEncoder(f)
		if err := enc.Encode(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	// start from defaults so keys missing from the file keep their default
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	def := Default()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.RulesPollSeconds <= 0 {
		cfg.RulesPollSeconds = def.RulesPollSeconds
	}
	if cfg.GatewayRatePerSec <= 0 {
		cfg.GatewayRatePerSec = def.GatewayRatePerSec
	}
	if cfg.StatusCheckSeconds <= 0 {
		cfg.StatusCheckSeconds = def.StatusCheckSeconds
	}
	return cfg, nil
}
