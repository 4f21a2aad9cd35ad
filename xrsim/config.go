package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// JitterConfig describes the truncated Gaussian jitter applied to the
// inter-frame interval. All values are milliseconds.
type JitterConfig struct {
	MeanMs float64 `mapstructure:"mean-ms"`
	StdMs  float64 `mapstructure:"std-ms"`
	MinMs  float64 `mapstructure:"min-ms"`
	MaxMs  float64 `mapstructure:"max-ms"`
}

// ChannelConfig describes the lossy link between sources and receivers.
type ChannelConfig struct {
	LatencyMs     float64 `mapstructure:"latency-ms"`
	BytePerSecond float64 `mapstructure:"byte-per-second"`
	DropRate      float64 `mapstructure:"drop-rate"`
}

// ScenarioConfig is the full configuration surface of one simulation run.
type ScenarioConfig struct {
	Users                int     `mapstructure:"users"`
	FrameRate            float64 `mapstructure:"frame-rate"`
	CatalogFile          string  `mapstructure:"catalog-file"`
	CompressionLevel     int     `mapstructure:"compression-level"`
	MaxPayloadBytes      int     `mapstructure:"max-payload-bytes"`
	StartTime            float64 `mapstructure:"start-time"`
	Seed                 int64   `mapstructure:"seed"`
	DeadlineMs           float64 `mapstructure:"deadline-ms"`
	ReliabilityThreshold float64 `mapstructure:"reliability-threshold"`
	ExpectedFrames       int     `mapstructure:"expected-frames"`
	ResultDir            string  `mapstructure:"result-dir"`
	GlobalSummaryFile    string  `mapstructure:"global-summary-file"`
	LogLevel             string  `mapstructure:"log-level"`

	Jitter  JitterConfig  `mapstructure:"jitter"`
	Channel ChannelConfig `mapstructure:"channel"`
}

// loadScenario reads the scenario configuration. With an empty path only
// the defaults apply.
func loadScenario(path string) (*ScenarioConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg ScenarioConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Users < 1 {
		return nil, fmt.Errorf("users must be at least 1, got %d", cfg.Users)
	}
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("frame-rate must be positive, got %g",
			cfg.FrameRate)
	}
	if cfg.MaxPayloadBytes <= 0 {
		return nil, fmt.Errorf("max-payload-bytes must be positive, got %d",
			cfg.MaxPayloadBytes)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("users", 1)
	v.SetDefault("frame-rate", 60.0)
	v.SetDefault("catalog-file", "catalog.csv")
	v.SetDefault("compression-level", 0)
	v.SetDefault("max-payload-bytes", 60000)
	v.SetDefault("start-time", 0.0)
	v.SetDefault("seed", 1)
	v.SetDefault("deadline-ms", 20.0)
	v.SetDefault("reliability-threshold", 0.99)
	v.SetDefault("expected-frames", 0)
	v.SetDefault("result-dir", "")
	v.SetDefault("global-summary-file", "global_qoe.csv")
	v.SetDefault("log-level", "info")

	v.SetDefault("jitter.mean-ms", 0.0)
	v.SetDefault("jitter.std-ms", 1.0)
	v.SetDefault("jitter.min-ms", -2.0)
	v.SetDefault("jitter.max-ms", 2.0)

	v.SetDefault("channel.latency-ms", 5.0)
	v.SetDefault("channel.byte-per-second", 12.5e6)
	v.SetDefault("channel.drop-rate", 0.01)
}
