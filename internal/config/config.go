// Package config loads application settings from defaults, an optional
// doe.yaml file, DOE_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cwbudde/mayflydoe/internal/solver"
)

// EnvPrefix is the prefix of environment overrides, e.g. DOE_LOG_LEVEL.
const EnvPrefix = "DOE"

// Config holds all application configuration.
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Server  ServerConfig   `mapstructure:"server"`
	Solver  solver.Options `mapstructure:"solver"`
	DataDir string         `mapstructure:"data_dir" validate:"required"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"data-dir":    "data_dir",
	"addr":        "server.addr",
	"strategy":    "solver.optimization_strategy",
	"seed":        "solver.random_seed",
	"max-seconds": "solver.max_seconds",
	"workers":     "solver.workers",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("data_dir", "./data")

	o := solver.DefaultOptions()
	v.SetDefault("solver.optimization_strategy", string(o.Strategy))
	v.SetDefault("solver.max_iterations", o.MaxIterations)
	v.SetDefault("solver.max_seconds", o.MaxSeconds)
	v.SetDefault("solver.random_seed", o.RandomSeed)
	v.SetDefault("solver.n_restarts", o.NRestarts)
	v.SetDefault("solver.relative_tolerance", o.RelativeTolerance)
	v.SetDefault("solver.grid_size", o.GridSize)
	v.SetDefault("solver.refine_steps", o.RefineSteps)
	v.SetDefault("solver.random_fraction", o.RandomFraction)
	v.SetDefault("solver.global_iterations", o.GlobalIterations)
	v.SetDefault("solver.global_population", o.GlobalPopulation)
	v.SetDefault("solver.max_nodes", o.MaxNodes)
	v.SetDefault("solver.workers", o.Workers)
	v.SetDefault("solver.epsilon", o.Epsilon)
}

// Load reads the configuration. path names an explicit config file; when
// empty, doe.yaml is looked up in the working directory and is optional.
// Flags present in flags override every other source when set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("doe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %s", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
