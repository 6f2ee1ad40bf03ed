// Config loading for cartctl.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeyAddr = "daemon_addr"

	defaultAddr = "http://localhost:8080"

	envAddr      = "CARTCTL_ADDR"
	envConfigDir = "CARTCTL_CONFIG_DIR"
)

// resolveAddr returns the daemon facade address with precedence:
// --addr flag > CARTCTL_ADDR env > config.yaml daemon_addr > default.
func resolveAddr() (string, error) {
	if flagAddr != "" {
		return flagAddr, nil
	}
	if addr := os.Getenv(envAddr); addr != "" {
		return addr, nil
	}

	configDir, err := resolveConfigDir()
	if err != nil {
		return "", err
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return "", err
	}
	return cfg.GetString(cfgKeyAddr), nil
}

// resolveConfigDir returns the configuration directory with precedence:
// --config-dir flag > CARTCTL_CONFIG_DIR env > ~/.cartsync.
func resolveConfigDir() (string, error) {
	if flagConfigDir != "" {
		return flagConfigDir, nil
	}
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".cartsync"), nil
}

// loadConfig reads config.yaml from the config directory using Viper.
// A missing config file is not an error; defaults apply.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyAddr, defaultAddr)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}
