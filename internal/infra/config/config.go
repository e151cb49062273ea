// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Player  PlayerConfig  `yaml:"player"`
	AutoDJ  AutoDJConfig  `yaml:"autodj"`
	Engine  EngineConfig  `yaml:"engine"`
	Library LibraryConfig `yaml:"library"`
}

// LoggerConfig represents logging configuration.
type LoggerConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
	File   string `yaml:"file"`
}

// PlayerConfig represents transport defaults applied at startup.
type PlayerConfig struct {
	Volume             int     `yaml:"volume" default:"70" validate:"gte=0,lte=100"`
	Speed              float64 `yaml:"speed" default:"1.0" validate:"gte=0.25,lte=3"`
	Transition         string  `yaml:"transition" default:"gapless" validate:"oneof=gapless crossfade"`
	CrossfadeSec       float64 `yaml:"crossfade_sec" default:"6" validate:"gte=0,lte=30"`
	Repeat             string  `yaml:"repeat" default:"off" validate:"oneof=off one all"`
	Shuffle            bool    `yaml:"shuffle"`
	ProgressIntervalMs int     `yaml:"progress_interval_ms" default:"300" validate:"gte=100,lte=2000"`
}

// AutoDJConfig represents continuation engine configuration.
type AutoDJConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold" default:"5" validate:"gte=1"`
	Batch     int  `yaml:"batch" default:"10" validate:"gte=1,lte=50"`
}

// EngineConfig represents the playback engine selection. Settings are
// engine-specific and decoded by the engine itself.
type EngineConfig struct {
	Type     string         `yaml:"type" default:"beep"`
	Settings map[string]any `yaml:"settings"`
}

// LibraryConfig represents the library source selection. Settings are
// source-specific and decoded by the source itself.
type LibraryConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Settings map[string]any `yaml:"settings"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if c.Library.Type != "spotify" {
		return
	}
	override := func(env, key string) {
		if v := os.Getenv(env); v != "" {
			if c.Library.Settings == nil {
				c.Library.Settings = make(map[string]any)
			}
			c.Library.Settings[key] = v
		}
	}
	override("SPOTIFY_CLIENT_ID", "client_id")
	override("SPOTIFY_CLIENT_SECRET", "client_secret")
	override("SPOTIFY_REFRESH_TOKEN", "refresh_token")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Player.Transition == "crossfade" && c.Player.CrossfadeSec <= 0 {
		return errors.New("crossfade transition requires crossfade_sec > 0")
	}

	return nil
}
