// Package config provides YAML-based configuration loading for coupled
// simulation runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/partsim/coupler/observability"
)

// Config is the root configuration of one coupled run.
type Config struct {
	// AppName is an optional logical name of the run.
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration.
	Log observability.LogConfig `mapstructure:"log"`

	// Participants lists every solver taking part in the coupling.
	Participants []ParticipantConfig `mapstructure:"participants"`

	// Meshes lists the shared interface meshes and their data.
	Meshes []MeshConfig `mapstructure:"meshes"`

	// Connections configures one channel per communicating participant
	// pair.
	Connections []ConnectionConfig `mapstructure:"connections"`

	// Scheme configures the coupling scheme driving the run.
	Scheme SchemeConfig `mapstructure:"scheme"`
}

// ParticipantConfig names one solver and its process count.
type ParticipantConfig struct {
	Name  string `mapstructure:"name"`
	Ranks int    `mapstructure:"ranks"`
}

// DataConfig declares one exchanged field on a mesh.
type DataConfig struct {
	Name string `mapstructure:"name"`
	Dims int    `mapstructure:"dims"`
}

// MeshConfig declares one shared interface mesh.
type MeshConfig struct {
	Name string       `mapstructure:"name"`
	Data []DataConfig `mapstructure:"data"`
}

// ConnectionConfig configures the channel between one participant pair.
// From is the requesting side, To the accepting side.
type ConnectionConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`

	// Transport is socket or memory.
	Transport string `mapstructure:"transport"`

	// Strategy is gather-scatter or point-to-point.
	Strategy string `mapstructure:"strategy"`

	// Address is the accepting side's listen address for the socket
	// transport.
	Address string `mapstructure:"address"`
}

// ExchangeConfig declares one directed data movement per time window.
type ExchangeConfig struct {
	Data    string `mapstructure:"data"`
	Mesh    string `mapstructure:"mesh"`
	From    string `mapstructure:"from"`
	To      string `mapstructure:"to"`
	Initial bool   `mapstructure:"initial"`
}

// MeasureConfig declares one convergence measure of an implicit scheme.
type MeasureConfig struct {
	// Kind is absolute or relative.
	Kind  string  `mapstructure:"kind"`
	Data  string  `mapstructure:"data"`
	Limit float64 `mapstructure:"limit"`
}

// AccelerationConfig selects the acceleration of an implicit scheme.
type AccelerationConfig struct {
	// Kind is constant or aitken.
	Kind  string  `mapstructure:"kind"`
	Omega float64 `mapstructure:"omega"`
}

// TimeWindowConfig fixes the time-window length policy.
type TimeWindowConfig struct {
	// Policy is fixed or negotiated.
	Policy string  `mapstructure:"policy"`
	Size   float64 `mapstructure:"size"`
}

// SchemeConfig configures the coupling scheme.
type SchemeConfig struct {
	// Kind is serial-explicit or serial-implicit.
	Kind string `mapstructure:"kind"`

	// Controller names the participant evaluating convergence in an
	// implicit scheme.
	Controller string `mapstructure:"controller"`

	MaxTime    float64          `mapstructure:"max_time"`
	MaxWindows int              `mapstructure:"max_windows"`
	TimeWindow TimeWindowConfig `mapstructure:"time_window"`

	MaxIterations int    `mapstructure:"max_iterations"`
	OnFailure     string `mapstructure:"on_failure"`

	Exchanges    []ExchangeConfig    `mapstructure:"exchanges"`
	Measures     []MeasureConfig     `mapstructure:"measures"`
	Acceleration *AccelerationConfig `mapstructure:"acceleration"`
}

// Default returns a Config populated with sensible defaults. The coupling
// topology itself has no default; it must come from the file.
func Default() *Config {
	return &Config{
		AppName: "coupled-run",
		Log: observability.LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
		Scheme: SchemeConfig{
			Kind:      "serial-explicit",
			OnFailure: "abort",
			TimeWindow: TimeWindowConfig{
				Policy: "fixed",
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix COUPLER and `.`/`-` are
// replaced with `_`. Example: COUPLER_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COUPLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("scheme.kind", cfg.Scheme.Kind)
	v.SetDefault("scheme.on_failure", cfg.Scheme.OnFailure)
	v.SetDefault("scheme.time_window.policy", cfg.Scheme.TimeWindow.Policy)

	if path == "" {
		if envPath := os.Getenv("COUPLER_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("coupler")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".coupler"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}
