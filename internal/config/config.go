package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultMainHost = "localhost"
	DefaultMainPort = 62050

	DefaultFileWriteDelay = 150 * time.Millisecond // ensures the write finishes before we re-read
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with the same defaults Marzban ships
// (3 failures / 30s recovery / 100ms flush / 100 batch / 1s max wait).
func DefaultConfig() *Config {
	return &Config{
		Main: MainConfig{
			Host: DefaultMainHost,
			Port: DefaultMainPort,
		},
		Channel: ChannelConfig{
			ConnectTimeout: 10 * time.Second,
			CallTimeout:    15 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMaxCalls: 1,
			SuccessThreshold: 1,
		},
		Queue: QueueConfig{
			FlushInterval: 100 * time.Millisecond,
			MaxBatchSize:  100,
			MaxWaitTime:   1 * time.Second,
		},
		Catalog: CatalogConfig{
			Path: "./config/inbounds.json",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			PrettyLogs: true,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load loads configuration from file and environment variables, watching the
// file for changes when onConfigChange is non-nil.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("FLEETD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("FLEETD_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}
