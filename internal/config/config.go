// Package config loads bitsyd's configuration from a file (YAML/JSON/
// TOML, whatever viper's format sniffing picks), environment variables
// prefixed BITSYD_, and hard-coded defaults, generalizing the
// teacher's bespoke client.Config struct into a layered, viper-backed
// loader the way the rest of the pack's CLI-driven repos do.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Elegant996/bitsyd/engine"
)

// Config is the on-disk/env-var shape, translated into engine.Config
// by ToEngineConfig.
type Config struct {
	BaseDir     string   `mapstructure:"base_dir"`
	DownloadDir string   `mapstructure:"download_dir"`
	IP          string   `mapstructure:"ip"`
	Ports       []uint16 `mapstructure:"ports"`

	MaxConnections      int  `mapstructure:"max_connections"`
	MaxUploadUnchoked   int  `mapstructure:"max_upload_unchoked"`
	MaxDownloadUnchoked int  `mapstructure:"max_download_unchoked"`
	NAT                 bool `mapstructure:"nat"`

	DiskWorkers int `mapstructure:"disk_workers"`

	StatsAddr string `mapstructure:"stats_addr"`
}

func defaults() Config {
	return Config{
		IP:                  "0.0.0.0",
		Ports:               []uint16{6881, 6882, 6883, 6884, 6885},
		MaxConnections:      50,
		MaxUploadUnchoked:   4,
		MaxDownloadUnchoked: 0,
		DiskWorkers:         4,
		StatsAddr:           "127.0.0.1:8080",
	}
}

// Load reads one configuration file: path when it is non-empty (an
// error if it cannot be read), otherwise ~/.bitsyd.yaml if it exists
// (errors reading it are ignored). Environment variables prefixed
// BITSYD_ take precedence over the file, which takes precedence over
// hard-coded defaults — viper's usual precedence order.
func Load(path string) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetEnvPrefix("bitsyd")
	v.AutomaticEnv()

	for key, val := range map[string]interface{}{
		"ip":                    cfg.IP,
		"max_connections":       cfg.MaxConnections,
		"max_upload_unchoked":   cfg.MaxUploadUnchoked,
		"max_download_unchoked": cfg.MaxDownloadUnchoked,
		"disk_workers":          cfg.DiskWorkers,
		"stats_addr":            cfg.StatsAddr,
		"nat":                   cfg.NAT,
	} {
		v.SetDefault(key, val)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(home)
	}
	v.SetConfigName(".bitsyd")
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && path != "" {
			return cfg, fmt.Errorf("config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	if cfg.BaseDir == "" {
		cfg.BaseDir = defaultBaseDir()
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "downloads"
	}

	return cfg, nil
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bitsyd"
	}
	return filepath.Join(home, ".bitsyd")
}

// ToEngineConfig translates the loaded Config into engine.Config.
func (c Config) ToEngineConfig() engine.Config {
	return engine.Config{
		BaseDir:             c.BaseDir,
		DownloadDir:         c.DownloadDir,
		IP:                  c.IP,
		Ports:               c.Ports,
		MaxConnections:      c.MaxConnections,
		MaxUploadUnchoked:   c.MaxUploadUnchoked,
		MaxDownloadUnchoked: c.MaxDownloadUnchoked,
		NAT:                 c.NAT,
		DiskWorkers:         c.DiskWorkers,
	}
}
