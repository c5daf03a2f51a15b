package config

// Package config provides a reusable loader for xln's runtime
// configuration files and environment variables (viper
// SetConfigName/AddConfigPath/ReadInConfig/MergeInConfig/AutomaticEnv/
// Unmarshal), with sections scoped to the fields the Runtime and
// EntityMachine actually need.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-network/xln/core"
	"synnergy-network/xln/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for one xln runtime process.
type Config struct {
	Entity struct {
		Validators []string          `mapstructure:"validators" json:"validators"`
		Weights    map[string]uint64 `mapstructure:"weights" json:"weights"`
		Threshold  uint64            `mapstructure:"threshold" json:"threshold"`
	} `mapstructure:"entity" json:"entity"`

	Runtime struct {
		MaxTicksPerDrain int    `mapstructure:"max_ticks_per_drain" json:"max_ticks_per_drain"`
		SnapshotPath     string `mapstructure:"snapshot_path" json:"snapshot_path"`
	} `mapstructure:"runtime" json:"runtime"`

	Account struct {
		ResendAfterTicks int `mapstructure:"resend_after_ticks" json:"resend_after_ticks"`
		FrameHistorySize int `mapstructure:"frame_history_size" json:"frame_history_size"`
	} `mapstructure:"account" json:"account"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the XLN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("XLN_ENV", ""))
}

// EntityConfig builds the core.EntityConfig for one validator replica from
// the loaded entity section.
func (c *Config) EntityConfig() core.EntityConfig {
	validators := make([]core.SignerId, len(c.Entity.Validators))
	for i, v := range c.Entity.Validators {
		validators[i] = core.SignerId(v)
	}
	weights := make(map[core.SignerId]uint64, len(c.Entity.Weights))
	for signer, w := range c.Entity.Weights {
		weights[core.SignerId(signer)] = w
	}
	return core.EntityConfig{Validators: validators, Weights: weights, Threshold: c.Entity.Threshold}
}

// NewRuntime constructs a core.Runtime bounded by this config's
// max_ticks_per_drain, backed by the given snapshot log.
func (c *Config) NewRuntime(snapshots *core.SnapshotLog) *core.Runtime {
	return core.NewRuntime(snapshots, c.Runtime.MaxTicksPerDrain)
}

// ApplyAccountDefaults overrides m's resend timer from this config's
// account section. Call once, right after constructing m, before any tx
// is submitted to it.
func ApplyAccountDefaults(c *Config, m *core.AccountMachine) {
	m.SetResendAfterTicks(c.Account.ResendAfterTicks)
}

// ApplyEntityDefaults overrides m's frameHistory capacity for every
// AccountMachine open_account constructs from this point on, from this
// config's account section.
func ApplyEntityDefaults(c *Config, m *core.EntityMachine) {
	m.SetAccountFrameHistorySize(c.FrameHistorySize())
}

// FrameHistorySize returns the configured per-account frame history
// capacity, or core.DefaultFrameHistorySize when unset.
func (c *Config) FrameHistorySize() int {
	if c.Account.FrameHistorySize <= 0 {
		return core.DefaultFrameHistorySize
	}
	return c.Account.FrameHistorySize
}
