// Package config loads an api.RunConfig from a YAML file, LCIMORPH_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/lcimorph/api"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LCIMORPH_YEAR.
const EnvPrefix = "LCIMORPH"

// Defaults applied before the file, the environment and the flags.
var defaults = map[string]any{
	"model":                "",
	"pathway":              "",
	"year":                 0,
	"system_model":         "attributional",
	"time_horizon":         30,
	"data_dir":             "data",
	"scenario_dir":         "",
	"key":                  "",
	"graph":                "",
	"output":               "",
	"log_dir":              "logs",
	"relink_excludes":      []string{},
	"alternative_names":    []string{},
	"metrics_file":         "",
	"tracing.enabled":      false,
	"tracing.sample_ratio": 1.0,
}

// flagKeys maps flag names that differ from their config key.
var flagKeys = map[string]string{
	"trace":              "tracing.enabled",
	"trace-sample-ratio": "tracing.sample_ratio",
}

// Load reads path (optional), overlays the environment and the flags that
// were set, and validates nothing: callers pick Validate or
// ValidateTransform.
func Load(path string, flags *pflag.FlagSet) (*api.RunConfig, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if _, known := defaults[key]; !known {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg api.RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SystemModel = strings.ToLower(cfg.SystemModel)
	cfg.Model = strings.ToLower(cfg.Model)
	return &cfg, nil
}
