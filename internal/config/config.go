// Package config loads and merges the indexer's configuration from YAML
// files, environment variables and an optional .env overlay, mirroring
// the shape of a conventional Viper-backed config loader.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Network names the Bitcoin network family the indexer follows.
type Network string

const (
	NetworkMainnet      Network = "mainnet"
	NetworkTestnet      Network = "testnet"
	NetworkTestnet4     Network = "testnet4"
	NetworkSignet       Network = "signet"
	NetworkRegtest      Network = "regtest"
	NetworkCustomSignet Network = "custom-signet"
)

// Config is the unified runtime configuration for a vaultindex process.
// Field names mirror §6.4 of the design document this package implements.
type Config struct {
	Network        Network       `mapstructure:"network" json:"network"`
	PeerAddress    string        `mapstructure:"peer_address" json:"peer_address"`
	StoragePath    string        `mapstructure:"storage_path" json:"storage_path"`
	BlockBatchSize uint32        `mapstructure:"block_batch_size" json:"block_batch_size"`
	StartHeight    uint32        `mapstructure:"start_height" json:"start_height"`
	Rescan         bool          `mapstructure:"rescan" json:"rescan"`
	RPCBindAddress string        `mapstructure:"rpc_bind_address" json:"rpc_bind_address"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" json:"reconnect_delay"`
	OrphanPoolCap  int           `mapstructure:"orphan_pool_cap" json:"orphan_pool_cap"`
	// TokenIDBlock/TokenIDTx identify the fungible-token issuance the
	// edict decoder matches against (§4.F's "configured token
	// identifier"). Omitted from §6.4's recognised-options table in
	// the distilled spec but required by its own §4.F prose; treated
	// as a genuine configuration input here (see DESIGN.md).
	TokenIDBlock uint64 `mapstructure:"token_id_block" json:"token_id_block"`
	TokenIDTx    uint32 `mapstructure:"token_id_tx" json:"token_id_tx"`
}

// Defaults returns the stable baseline configuration. Every Option in
// this package is applied against a copy of this value, so the order in
// which options are composed never changes the final result.
func Defaults() Config {
	return Config{
		Network:        NetworkSignet,
		PeerAddress:    "127.0.0.1:38333",
		StoragePath:    ":memory:",
		BlockBatchSize: 500,
		StartHeight:    0,
		Rescan:         false,
		RPCBindAddress: "127.0.0.1:8733",
		ReconnectDelay: 10 * time.Second,
		OrphanPoolCap:  10_000,
		TokenIDBlock:   0,
		TokenIDTx:      0,
	}
}

// Load reads "default" plus an optional environment-specific overlay via
// Viper, applies a .env overlay if present, and unmarshals the result.
// Defaults are merged first, the named environment overlay second, and
// environment variables take precedence over both.
func Load(env string, searchPaths ...string) (*Config, error) {
	_ = godotenv.Load() // optional; a missing .env is not an error

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) == 0 {
		v.AddConfigPath("./config")
	}

	cfg := Defaults()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	v.SetEnvPrefix("VAULTINDEX")
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
