package config

import (
	"io/ioutil"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"

	"lilithos/internal/kernel/image"
	"lilithos/internal/kernel/patcher"
	"lilithos/internal/logger"
	"lilithos/internal/patch/toml"
)

// Config contains everything the command line tool needs, the patch
// table is configuration, not process-wide state.
type Config struct {
	Device  string `toml:"device" default:"iPhone4,1"`
	Version string `toml:"version" default:"9.3.6"`

	// Downloads is the directory for restore files and extracted
	// kernelcaches.
	Downloads string `toml:"downloads" default:"downloads"`

	Logger struct {
		Level string `toml:"level" default:"info"`
	} `toml:"logger"`

	Patcher struct {
		// Policy is "continue" or "abort".
		Policy string `toml:"policy" default:"continue"`

		// Cache is the resolved offset cache file.
		Cache string `toml:"cache" default:"offsets.cache"`

		// Base is the virtual base added to signature-resolved
		// offsets, zero selects the target kernel default.
		Base uint64 `toml:"base"`
	} `toml:"patcher"`

	Patches []patcher.Descriptor `toml:"patches"`
}

// Load is used to load and validate a configuration file.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path) // #nosec
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return LoadBytes(data)
}

// LoadBytes is used to load a configuration from TOML data.
func LoadBytes(data []byte) (*Config, error) {
	cfg := new(Config)
	err := toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	err = defaults.Set(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set config defaults")
	}
	if cfg.Patcher.Base == 0 {
		cfg.Patcher.Base = image.DefaultKernelBase
	}
	_, err = cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	_, err = cfg.Policy()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Table is used to build the immutable patch table.
func (cfg *Config) Table() *patcher.Table {
	return patcher.NewTable(cfg.Patches...)
}

// LogLevel is used to parse the configured logger level.
func (cfg *Config) LogLevel() (logger.Level, error) {
	return logger.Parse(cfg.Logger.Level)
}

// Policy is used to parse the configured failure policy.
func (cfg *Config) Policy() (patcher.Policy, error) {
	return patcher.ParsePolicy(cfg.Patcher.Policy)
}
