// Package config loads the node's configuration profile: a single
// mapstructure-tagged Config struct populated by viper, with environment
// overrides layered on top via godotenv + viper.AutomaticEnv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/duniter-go/node/pkg/errs"
)

// Config is the unified node configuration. Field groups mirror §6's CLI
// surface and §3/§9's "global singletons should be configuration values"
// guidance: grace window, chunk sizes and fork table size all live here
// rather than as package constants. yaml tags mirror the mapstructure ones
// so Save (used by the `enable`/`disable` CLI commands) round-trips
// through the same key names Load reads back.
type Config struct {
	Profile string `mapstructure:"profile" json:"profile" yaml:"profile"`

	Network struct {
		Currency       string        `mapstructure:"currency" json:"currency" yaml:"currency"`
		ListenAddr     string        `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
		DiscoveryTag   string        `mapstructure:"discovery_tag" json:"discovery_tag" yaml:"discovery_tag"`
		BootstrapPeers []string      `mapstructure:"bootstrap_peers" json:"bootstrap_peers" yaml:"bootstrap_peers"`
		TickInterval   time.Duration `mapstructure:"tick_interval" json:"tick_interval" yaml:"tick_interval"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	Router struct {
		GraceWindow time.Duration `mapstructure:"grace_window" json:"grace_window" yaml:"grace_window"`
	} `mapstructure:"router" json:"router" yaml:"router"`

	Blockchain struct {
		ChunkSize        uint32        `mapstructure:"chunk_size" json:"chunk_size" yaml:"chunk_size"`
		MaxBlocksRequest uint32        `mapstructure:"max_blocks_request" json:"max_blocks_request" yaml:"max_blocks_request"`
		SyncChunkSize    uint32        `mapstructure:"sync_chunk_size" json:"sync_chunk_size" yaml:"sync_chunk_size"`
		MaxForkSlots     int           `mapstructure:"max_fork_slots" json:"max_fork_slots" yaml:"max_fork_slots"`
		ForkTolerance    uint32        `mapstructure:"fork_tolerance" json:"fork_tolerance" yaml:"fork_tolerance"`
		ConsensusPoll    time.Duration `mapstructure:"consensus_poll" json:"consensus_poll" yaml:"consensus_poll"`
		StackUpInterval  time.Duration `mapstructure:"stack_up_interval" json:"stack_up_interval" yaml:"stack_up_interval"`
		SyncWorkers      int           `mapstructure:"sync_workers" json:"sync_workers" yaml:"sync_workers"`
		CertValiditySecs int64         `mapstructure:"cert_validity_secs" json:"cert_validity_secs" yaml:"cert_validity_secs"`
	} `mapstructure:"blockchain" json:"blockchain" yaml:"blockchain"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir" yaml:"data_dir"`
	} `mapstructure:"storage" json:"storage" yaml:"storage"`

	ClientAPI struct {
		Enabled    bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	} `mapstructure:"client_api" json:"client_api" yaml:"client_api"`

	Logging struct {
		Level     string `mapstructure:"level" json:"level" yaml:"level"`
		LogStdout bool   `mapstructure:"log_stdout" json:"log_stdout" yaml:"log_stdout"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`

	// Modules lists the §6 module set this profile starts; entries absent
	// from Disabled start, so a fresh profile runs everything.
	Modules struct {
		Disabled []string `mapstructure:"disabled" json:"disabled" yaml:"disabled"`
	} `mapstructure:"modules" json:"modules" yaml:"modules"`

	RunDuration time.Duration `mapstructure:"run_duration" json:"run_duration" yaml:"run_duration"`
}

// ModuleEnabled reports whether name is not in the profile's disabled list,
// backing the `enable`/`disable`/`modules` CLI commands.
func (c Config) ModuleEnabled(name string) bool {
	for _, d := range c.Modules.Disabled {
		if d == name {
			return false
		}
	}
	return true
}

// Default returns a Config populated with the §3/§4/§6 reference defaults.
func Default() Config {
	var c Config
	c.Profile = "default"
	c.Network.ListenAddr = "/ip4/0.0.0.0/tcp/10901"
	c.Network.DiscoveryTag = "duniter-go"
	c.Network.TickInterval = time.Second
	c.Router.GraceWindow = 20 * time.Second
	c.Blockchain.ChunkSize = 50
	c.Blockchain.MaxBlocksRequest = 500
	c.Blockchain.SyncChunkSize = 250
	c.Blockchain.MaxForkSlots = 50
	c.Blockchain.ForkTolerance = 100
	c.Blockchain.ConsensusPoll = 20 * time.Second
	c.Blockchain.StackUpInterval = 20 * time.Second
	c.Blockchain.SyncWorkers = 4
	c.Blockchain.CertValiditySecs = 31536000 // one year
	c.Storage.DataDir = "./data"
	c.ClientAPI.Enabled = true
	c.ClientAPI.ListenAddr = "127.0.0.1:9220"
	c.Logging.Level = "info"
	return c
}

// Load reads <dir>/<profile>/conf.yaml, merges a sibling .env file and
// environment variables prefixed DUNITER_, and returns the resolved Config.
// A missing config file is not an error: the profile starts from Default().
func Load(dir, profile string) (Config, error) {
	c := Default()
	if profile != "" {
		c.Profile = profile
	}

	_ = godotenv.Load(dir + "/" + c.Profile + "/.env")

	v := viper.New()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir + "/" + c.Profile)
	v.SetEnvPrefix("DUNITER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, errs.Wrapf(err, "%w: load config for profile %q", errs.ErrConfig, c.Profile)
		}
	} else if err := v.Unmarshal(&c); err != nil {
		return c, errs.Wrapf(err, "%w: unmarshal config for profile %q", errs.ErrConfig, c.Profile)
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// ProfileDir returns the directory Load reads a profile's conf.yaml from,
// the same path Save writes it back to.
func ProfileDir(dir, profile string) string {
	return filepath.Join(dir, profile)
}

// Save writes c back to <dir>/<profile>/conf.yaml, creating the profile
// directory if needed. Used by the `enable`/`disable` CLI commands, which
// round-trip a loaded Config with its Modules.Disabled list changed.
func Save(dir string, c Config) error {
	profileDir := ProfileDir(dir, c.Profile)
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return errs.Wrapf(err, "%w: create profile directory %q", errs.ErrConfig, profileDir)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errs.Wrapf(err, "%w: marshal config for profile %q", errs.ErrConfig, c.Profile)
	}
	if err := os.WriteFile(filepath.Join(profileDir, "conf.yaml"), data, 0o644); err != nil {
		return errs.Wrapf(err, "%w: write config for profile %q", errs.ErrConfig, c.Profile)
	}
	return nil
}

// Validate rejects configurations that would violate §3 invariants before
// the engine ever starts, matching §7's "fail fast with exit code != 0" for
// ConfigError.
func (c Config) Validate() error {
	if c.Blockchain.MaxForkSlots <= 0 {
		return fmt.Errorf("%w: blockchain.max_fork_slots must be positive", errs.ErrConfig)
	}
	if c.Blockchain.ChunkSize == 0 {
		return fmt.Errorf("%w: blockchain.chunk_size must be positive", errs.ErrConfig)
	}
	if c.Router.GraceWindow <= 0 {
		return fmt.Errorf("%w: router.grace_window must be positive", errs.ErrConfig)
	}
	return nil
}
