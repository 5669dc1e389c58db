package config

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// BaseSettingsDir returns the directory holding settings, logs and the
// session record.
func BaseSettingsDir() string {
	if configPath := viper.GetString("config.path"); configPath != "" {
		return configPath
	}

	currentConfig := viper.ConfigFileUsed()
	if currentConfig == "" {
		return "./.atelier"
	}
	return filepath.Dir(currentConfig)
}

func BuildSettingsPath(target string) string {
	return filepath.Join(BaseSettingsDir(), target)
}
