package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper"
	"github.com/matjam/waypaper/internal/config"
	"github.com/matjam/waypaper/internal/ipc"
	"github.com/spf13/viper"
	"github.com/tidwall/pretty"
)

func PrintJSONColored(data interface{}) {
	j, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Errorf("Error marshalling JSON: %v", err)
		return
	}

	jPretty := pretty.Color(j, nil)
	log.Info(string(jPretty))
}

// LoadConfig resolves the settings viper has collected from the config
// file, the environment and flags.
func LoadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Client returns a control socket client for the configured daemon.
func Client() (*ipc.Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(cfg.Socket, cfg.ClientTimeout), nil
}

func InstallDefaultConfig() error {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}

	configPath := filepath.Join(configDir, "waypaper", "waypaper.toml")

	if _, err := os.Stat(configPath); err == nil {
		log.Warnf("Config file already exists at %v", configPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(waypaper.DefaultConfig), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Infof("Installed default config file at %v", configPath)
	return nil
}
