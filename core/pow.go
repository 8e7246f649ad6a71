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

package core

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"sync/atomic"
)

// Miner searches a block's magic byte-string space in parallel until a
// hash satisfying the chain's difficulty target is found (spec §4.4).
// This replaces the teacher's single-threaded ProofOfWork: the same
// "try a candidate, hash, compare against target" loop, just run by
// Workers goroutines over disjoint slices of the search space with
// cooperative cancellation once any one of them wins.
type Miner struct {
	Workers int

	lastAttempts atomic.Uint64
}

// NewMiner returns a Miner using n worker goroutines (at least 1).
func NewMiner(n int) *Miner {
	if n < 1 {
		n = 1
	}
	return &Miner{Workers: n}
}

const magicLen = 9 // 1 worker-id byte + 8 counter bytes

// MineBlock finds a magic value making block.Hash() satisfy target and
// installs it on block. block.MerkleRoot is (re)computed first. Returns
// ErrCancelled if ctx is cancelled before any worker finds a winner.
func (m *Miner) MineBlock(ctx context.Context, target *big.Int, block *Block) (*Block, error) {
	if err := block.RecomputeMerkleRoot(); err != nil {
		return nil, err
	}
	prefix, err := block.headerPrefixBytes()
	if err != nil {
		return nil, err
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found atomic.Bool
	var mu sync.Mutex
	var winner []byte

	workers := m.Workers
	if workers < 1 {
		workers = 1
	}

	var totalAttempts atomic.Uint64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID byte) {
			defer wg.Done()
			magic := make([]byte, magicLen)
			magic[0] = workerID
			var counter uint64
			candidate := make([]byte, 0, len(prefix)+1+magicLen)
			for {
				select {
				case <-searchCtx.Done():
					totalAttempts.Add(counter)
					return
				default:
				}
				if found.Load() {
					totalAttempts.Add(counter)
					return
				}
				binary.BigEndian.PutUint64(magic[1:], counter)
				candidate = candidate[:0]
				candidate = append(candidate, prefix...)
				candidate = append(candidate, byte(len(magic)))
				candidate = append(candidate, magic...)
				hash := HashBlock(candidate)
				counter++
				if new(big.Int).SetBytes(hash[:]).Cmp(target) < 0 {
					if found.CompareAndSwap(false, true) {
						mu.Lock()
						winner = append([]byte(nil), magic...)
						mu.Unlock()
						cancel()
					}
					totalAttempts.Add(counter)
					return
				}
			}
		}(byte(w))
	}
	wg.Wait()
	m.lastAttempts.Store(totalAttempts.Load())

	if !found.Load() {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, ErrExhausted
	}
	block.Magic = winner
	return block, nil
}

// Attempts returns the total hash attempts across all workers in the
// most recently completed MineBlock call, for hashrate reporting
// (metrics.ObserveHashrate).
func (m *Miner) Attempts() uint64 {
	return m.lastAttempts.Load()
}

// MineTransaction builds a single-transaction block extending headHash
// and mines it — the shape a wallet uses when it wants a pending
// transaction confirmed immediately rather than batched with others.
func (m *Miner) MineTransaction(ctx context.Context, target *big.Int, version uint16, headHash [BlockHashLen]byte, finder PublicKey, tx *Transaction) (*Block, error) {
	block := &Block{
		Version:      version,
		BackHash:     headHash,
		Finder:       finder,
		Transactions: []*Transaction{tx},
	}
	return m.MineBlock(ctx, target, block)
}
