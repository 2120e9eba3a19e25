package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 5000)
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transfer.maxFileBytes", 64<<20)
	v.SetDefault("transfer.idleTimeout", "30s")
	v.SetDefault("transfer.claimWait", "15s")
	v.SetDefault("transfer.pendingTTL", "2m")
	v.SetDefault("transfer.stagingDir", os.TempDir())
	v.SetDefault("gateway.address", "")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("CHATSALA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
