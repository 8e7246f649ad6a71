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
Package metrics exposes a /metrics endpoint the way zcash-lightwalletd's
cmd/root.go does (http.Handle("/metrics", promhttp.Handler())), covering
the gauges a Celestium node actually has: chain height, mempool size,
miner hashrate, and wallet balance.
*/
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"celestium/core"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "celestium_chain_height",
		Help: "Number of blocks applied to the local chain.",
	})
	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "celestium_mempool_size",
		Help: "Number of off-chain (pending) transactions held by the wallet.",
	})
	MinerHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "celestium_miner_hashrate",
		Help: "Most recently observed hashes-per-second across all mining workers.",
	})
	WalletBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "celestium_wallet_balance_dust",
		Help: "Spendable coin balance of the local wallet, in dust.",
	})
)

func init() {
	prometheus.MustRegister(ChainHeight, MempoolSize, MinerHashrate, WalletBalance)
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWallet refreshes the wallet-derived gauges from w's current
// state. The relay's RunMiner calls it after each block it mines; other
// wallet operations (payments, pixel mints) do not update the gauges.
func ObserveWallet(w *core.Wallet) {
	ChainHeight.Set(float64(w.Chain.Height()))
	MempoolSize.Set(float64(len(w.MiningDataFromOffChainTransactions())))
	balance, _ := new(big.Float).SetInt(w.GetBalance()).Float64()
	WalletBalance.Set(balance)
}

// ObserveHashrate records a miner's attempts-per-second over a completed
// search window.
func ObserveHashrate(attempts uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	MinerHashrate.Set(float64(attempts) / elapsed.Seconds())
}
