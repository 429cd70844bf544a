// Package config loads clammsim settings from a config file, CLAMM_* environment
// variables and command flags, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Scenario      string
	JournalPath   string
	PgDSN         string
	SnapshotDir   string
	SnapshotEvery int
	CacheSize     int
	LogLevel      string

	// quote
	Pool    string
	TokenIn string
	Amount  string
}

func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLAMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("snapshot-every", 64)
	v.SetDefault("cache-size", 1024)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("clammsim")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return Config{
		Scenario:      v.GetString("scenario"),
		JournalPath:   v.GetString("journal"),
		PgDSN:         v.GetString("pg-dsn"),
		SnapshotDir:   v.GetString("snapshot-dir"),
		SnapshotEvery: v.GetInt("snapshot-every"),
		CacheSize:     v.GetInt("cache-size"),
		LogLevel:      v.GetString("log-level"),
		Pool:          v.GetString("pool"),
		TokenIn:       v.GetString("token-in"),
		Amount:        v.GetString("amount"),
	}, nil
}
