// Copyright 2021 Hailiang Zhao <hliangzhao@zju.edu.cn>
// This file is part of the lightChain.
//
// The lightChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lightChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lightChain. If not, see <http://www.gnu.org/licenses/>.

/*
Package config binds Celestium's runtime settings to viper keys the way
zcash-lightwalletd's cmd/root.go binds its own (BindPFlag + SetDefault
per key, AutomaticEnv so an unset flag still falls back to its matching
environment variable).
*/
package config

import (
	"math/big"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"celestium/core"
)

// Config is the fully resolved runtime configuration for a Celestium node.
type Config struct {
	DifficultyBits int
	BlockSubsidy   int64
	MinerThreads   int
	BoltPath       string
	RelayBindAddr  string
	RelayToll      int64

	ReloadUnspentOutputs       bool
	ReloadNFTLookups           bool
	IgnoreOffChainTransactions bool
}

// BindFlags registers every Config flag on cmd against viper, the same
// BindPFlag+SetDefault pairing zcash-lightwalletd's init() uses.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.Int("difficulty-bits", 20, "number of leading zero bits the chain's difficulty target requires")
	_ = viper.BindPFlag("difficulty-bits", flags.Lookup("difficulty-bits"))
	viper.SetDefault("difficulty-bits", 20)

	flags.Int64("block-subsidy", 1337, "dust credited to a block's finder before fees")
	_ = viper.BindPFlag("block-subsidy", flags.Lookup("block-subsidy"))
	viper.SetDefault("block-subsidy", 1337)

	flags.Int("miner-threads", 4, "number of parallel mining worker goroutines")
	_ = viper.BindPFlag("miner-threads", flags.Lookup("miner-threads"))
	viper.SetDefault("miner-threads", 4)

	flags.String("bolt-path", "celestium.db", "path to the boltdb wallet archive")
	_ = viper.BindPFlag("bolt-path", flags.Lookup("bolt-path"))
	viper.SetDefault("bolt-path", "celestium.db")

	flags.String("relay-addr", "127.0.0.1:8787", "bind address for the pixel-canvas relay server")
	_ = viper.BindPFlag("relay-addr", flags.Lookup("relay-addr"))
	viper.SetDefault("relay-addr", "127.0.0.1:8787")

	flags.Int64("relay-toll", 1, "dust required alongside every pixel submission")
	_ = viper.BindPFlag("relay-toll", flags.Lookup("relay-toll"))
	viper.SetDefault("relay-toll", 1)

	viper.SetDefault("reload-unspent-outputs", true)
	viper.SetDefault("reload-nft-lookups", true)
	viper.SetDefault("ignore-off-chain-transactions", false)

	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// spec §6's three loader flags have no command-line flag; bind them
	// explicitly so RELOAD_UNSPENT_OUTPUTS etc. set the dashed viper keys
	// (reload-unspent-outputs etc.) that Load reads.
	_ = viper.BindEnv("reload-unspent-outputs", "RELOAD_UNSPENT_OUTPUTS")
	_ = viper.BindEnv("reload-nft-lookups", "RELOAD_NFT_LOOKUPS")
	_ = viper.BindEnv("ignore-off-chain-transactions", "IGNORE_OFF_CHAIN_TRANSACTIONS")
}

// Load resolves a Config from whatever viper has bound so far (flags,
// env, defaults).
func Load() *Config {
	return &Config{
		DifficultyBits:             viper.GetInt("difficulty-bits"),
		BlockSubsidy:               viper.GetInt64("block-subsidy"),
		MinerThreads:               viper.GetInt("miner-threads"),
		BoltPath:                   viper.GetString("bolt-path"),
		RelayBindAddr:              viper.GetString("relay-addr"),
		RelayToll:                  viper.GetInt64("relay-toll"),
		ReloadUnspentOutputs:       viper.GetBool("reload-unspent-outputs"),
		ReloadNFTLookups:           viper.GetBool("reload-nft-lookups"),
		IgnoreOffChainTransactions: viper.GetBool("ignore-off-chain-transactions"),
	}
}

// DifficultyTarget returns the *big.Int target DifficultyBits describes:
// the top DifficultyBits bits of a 256-bit hash must be zero.
func (c *Config) DifficultyTarget() *big.Int {
	bits := c.DifficultyBits
	if bits <= 0 || bits >= 256 {
		return core.DefaultDifficultyTarget()
	}
	target := big.NewInt(1)
	return target.Lsh(target, uint(256-bits))
}

// BlockSubsidyValue returns BlockSubsidy as a *big.Int.
func (c *Config) BlockSubsidyValue() *big.Int {
	return big.NewInt(c.BlockSubsidy)
}

// RelayTollValue returns RelayToll as a *big.Int.
func (c *Config) RelayTollValue() *big.Int {
	return big.NewInt(c.RelayToll)
}
