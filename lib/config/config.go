package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel       string
	StoreDriver    string
	StoreDir       string
	PostgresDSN    string
	TokenDecimals0 uint8
	TokenDecimals1 uint8
}

// Load merges config file, environment variables, and flags into Config.
// Flags are bound to their dotted keys explicitly.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.dir", "./data/pools")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("pool.token_decimals0", 9)
	v.SetDefault("pool.token_decimals1", 6)

	if flags != nil {
		for key, flag := range map[string]string{
			"log.level":          "log-level",
			"store.driver":       "store-driver",
			"store.dir":          "store-dir",
			"store.postgres_dsn": "postgres-dsn",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("clmm")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:    v.GetString("log.level"),
		StoreDriver: strings.ToLower(v.GetString("store.driver")),
		StoreDir:    v.GetString("store.dir"),
		PostgresDSN: v.GetString("store.postgres_dsn"),
	}
	d0, d1 := v.GetUint("pool.token_decimals0"), v.GetUint("pool.token_decimals1")
	if d0 > 38 || d1 > 38 {
		return Config{}, fmt.Errorf("token decimals %d/%d out of range", d0, d1)
	}
	cfg.TokenDecimals0, cfg.TokenDecimals1 = uint8(d0), uint8(d1)

	switch cfg.StoreDriver {
	case DriverFile, DriverNone:
	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	return cfg, nil
}
