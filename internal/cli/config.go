package cli

import (
	"errors"

	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func InitConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("waypaper")
		viper.SetConfigType("toml")
		if viper.GetString("config") != "" {
			viper.SetConfigFile(viper.GetString("config"))
		} else {
			viper.AddConfigPath("$HOME/.config/waypaper")
			viper.AddConfigPath("/etc/xdg/waypaper")
		}
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("waypaper")
	viper.AutomaticEnv() // WAYPAPER_SOCKET, WAYPAPER_TARGET_FPS, ...

	// defaults are usable on their own, so only a broken file is fatal
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			cobra.CheckErr(err)
		}
		log.Debugf("no config file found, using defaults")
	}

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
}
