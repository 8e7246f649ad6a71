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

/* This file defines the data structure of Wallet, with basic operations provided. */
package core

import (
	"context"
	"math/big"
	"sync"
)

// Wallet binds a keypair to a Blockchain and tracks both confirmed and
// pending (off-chain) transactions, the way the teacher's Wallet bound a
// key to a local wallets.dat — except the unit of value here is dust and
// NFT ids, not an address-keyed coin balance (spec §5).
type Wallet struct {
	mu sync.Mutex

	KeyPair *KeyPair
	Chain   *Blockchain
	Miner   *Miner

	OnChainTransactions  map[[TransactionHashLen]byte]*Transaction
	OffChainTransactions map[[TransactionHashLen]byte]*Transaction
	UnspentOutputs       map[UTXOKey]TransactionOutput
	NFTLookups           map[[32]byte]UTXOKey

	// ReloadUnspentOutputs/ReloadNFTLookups mirror the config env flags
	// of the same name: when false, RefreshFromChain leaves the cached
	// views untouched instead of recomputing them from chain state.
	ReloadUnspentOutputs       bool
	ReloadNFTLookups           bool
	IgnoreOffChainTransactions bool
}

// NewWallet binds kp to chain with workers parallel mining threads.
func NewWallet(chain *Blockchain, kp *KeyPair, workers int) *Wallet {
	w := &Wallet{
		KeyPair:                    kp,
		Chain:                      chain,
		Miner:                      NewMiner(workers),
		OnChainTransactions:        make(map[[TransactionHashLen]byte]*Transaction),
		OffChainTransactions:       make(map[[TransactionHashLen]byte]*Transaction),
		UnspentOutputs:             make(map[UTXOKey]TransactionOutput),
		NFTLookups:                 make(map[[32]byte]UTXOKey),
		ReloadUnspentOutputs:       true,
		ReloadNFTLookups:           true,
		IgnoreOffChainTransactions: false,
	}
	w.RefreshFromChain()
	return w
}

// RefreshFromChain recomputes the wallet's unspent-output and NFT views
// from the committed chain, honoring the reload flags so a wallet can be
// pointed at a chain whose off-chain-spent outputs it trusts without
// re-deriving them from scratch every time (spec §5).
func (w *Wallet) RefreshFromChain() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ReloadUnspentOutputs {
		w.UnspentOutputs = w.Chain.UnspentOutputsFor(w.KeyPair.PK)
	}
	if w.ReloadNFTLookups {
		nfts := make(map[[32]byte]UTXOKey)
		for key, out := range w.UnspentOutputs {
			if out.Value.IsID() {
				id, _ := out.Value.ID()
				nfts[id] = key
			}
		}
		w.NFTLookups = nfts
	}
	if !w.IgnoreOffChainTransactions {
		w.applyOffChainView()
	}
}

// applyOffChainView removes outputs already consumed by pending
// transactions from the spendable view, so GetBalance never double-
// counts dust the wallet has already committed to spending.
func (w *Wallet) applyOffChainView() {
	for _, tx := range w.OffChainTransactions {
		for _, in := range tx.Inputs {
			key := UTXOKey{BlockHash: in.BlockHash, TransactionHash: in.TransactionHash, OutputIndex: in.OutputIndex}
			delete(w.UnspentOutputs, key)
		}
	}
}

// GetBalance sums the dust value of every coin output the wallet can
// currently spend (spec §5).
func (w *Wallet) GetBalance() *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := big.NewInt(0)
	for _, out := range w.UnspentOutputs {
		if out.Value.IsCoin() {
			amt, err := out.Value.Value()
			if err == nil {
				total.Add(total, amt)
			}
		}
	}
	return total
}

// NFTs lists the ids of every NFT the wallet currently owns.
func (w *Wallet) NFTs() [][32]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([][32]byte, 0, len(w.NFTLookups))
	for id := range w.NFTLookups {
		ids = append(ids, id)
	}
	return ids
}

// resolveLocked looks up an input against the wallet's cached view plus
// the committed chain, for signing/verifying transactions the wallet
// itself has not yet submitted.
func (w *Wallet) resolveLocked(in TransactionInput) (PublicKey, TransactionValue, error) {
	key := UTXOKey{BlockHash: in.BlockHash, TransactionHash: in.TransactionHash, OutputIndex: in.OutputIndex}
	if out, ok := w.UnspentOutputs[key]; ok {
		return out.PK, out.Value, nil
	}
	return w.Chain.LookupOutput(in)
}

// NewPayment selects enough of the wallet's own coin outputs to cover
// amount+fee, builds, signs, and registers a coin-transfer transaction
// paying amount to dst, with any excess returned to the wallet itself
// (spec §4.3, §5).
func (w *Wallet) NewPayment(dst PublicKey, amount, fee *big.Int) (*Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	need := new(big.Int).Add(amount, fee)
	var inputs []TransactionInput
	var inputPKs []PublicKey
	var inputValues []TransactionValue
	gathered := big.NewInt(0)

	for key, out := range w.UnspentOutputs {
		if !out.Value.IsCoin() || gathered.Cmp(need) >= 0 {
			continue
		}
		v, err := out.Value.Value()
		if err != nil {
			continue
		}
		inputs = append(inputs, TransactionInput{BlockHash: key.BlockHash, TransactionHash: key.TransactionHash, OutputIndex: key.OutputIndex})
		inputPKs = append(inputPKs, out.PK)
		inputValues = append(inputValues, out.Value)
		gathered.Add(gathered, v)
	}
	if gathered.Cmp(need) < 0 {
		return nil, wrapErr(CategoryLedger, KindValueMismatch, "insufficient spendable balance", nil)
	}

	change := new(big.Int).Sub(gathered, need)
	dstValue, err := NewCoinValue(amount, fee)
	if err != nil {
		return nil, err
	}
	outputs := []TransactionOutput{{Value: dstValue, PK: dst}}
	if change.Sign() > 0 {
		changeValue, err := NewCoinValue(change, big.NewInt(0))
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, TransactionOutput{Value: changeValue, PK: w.KeyPair.PK})
	}

	tx, err := NewCoinTransfer(inputs, inputPKs, inputValues, outputs)
	if err != nil {
		return nil, err
	}
	for _, pk := range distinctInputPKs(inputPKs) {
		if pk == w.KeyPair.PK {
			if err := tx.Sign(w.KeyPair.SK); err != nil {
				return nil, err
			}
		}
	}
	if err := w.addOffChainTransactionLocked(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// AddOffChainTransaction registers an externally-built transaction (e.g.
// received from a peer) into the pending pool after tx.Verify() checks its
// signatures and value conservation against the input values the
// transaction was built or decoded with (spec §5). It does not check that
// those inputs are still unspent or that they are not already spent by
// another pending transaction.
func (w *Wallet) AddOffChainTransaction(tx *Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addOffChainTransactionLocked(tx)
}

func (w *Wallet) addOffChainTransactionLocked(tx *Transaction) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	w.OffChainTransactions[hash] = tx
	if !w.IgnoreOffChainTransactions {
		for _, in := range tx.Inputs {
			key := UTXOKey{BlockHash: in.BlockHash, TransactionHash: in.TransactionHash, OutputIndex: in.OutputIndex}
			delete(w.UnspentOutputs, key)
		}
	}
	return nil
}

// MiningDataFromOffChainTransactions returns the pending transactions a
// new block should include — currently every transaction the wallet
// holds off-chain, in no particular priority order (spec §5).
func (w *Wallet) MiningDataFromOffChainTransactions() []*Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	txs := make([]*Transaction, 0, len(w.OffChainTransactions))
	for _, tx := range w.OffChainTransactions {
		txs = append(txs, tx)
	}
	return txs
}

// MineBlock assembles the wallet's pending transactions into a block
// extending the chain's current tip, mines it, and — on success —
// applies it to the chain and moves its transactions from the off-chain
// pool to the on-chain pool (spec §4.4, §5).
func (w *Wallet) MineBlock(ctx context.Context, version uint16) (*Block, error) {
	pending := w.MiningDataFromOffChainTransactions()
	block := &Block{
		Version:      version,
		BackHash:     w.Chain.HeadHash(),
		Finder:       w.KeyPair.PK,
		Transactions: pending,
	}
	mined, err := w.Miner.MineBlock(ctx, w.Chain.DifficultyTarget, block)
	if err != nil {
		return nil, err
	}
	return w.AddBlock(mined)
}

// MineTransaction mines a single pending transaction into its own block
// immediately, rather than waiting to batch it with others.
func (w *Wallet) MineTransaction(ctx context.Context, version uint16, tx *Transaction) (*Block, error) {
	mined, err := w.Miner.MineTransaction(ctx, w.Chain.DifficultyTarget, version, w.Chain.HeadHash(), w.KeyPair.PK, tx)
	if err != nil {
		return nil, err
	}
	return w.AddBlock(mined)
}

// AddBlock applies an already-mined block (whether mined locally or
// received from the network) to the chain and reconciles the wallet's
// pending pool against it.
func (w *Wallet) AddBlock(block *Block) (*Block, error) {
	raw, err := Encode(block)
	if err != nil {
		return nil, err
	}
	applied, err := w.Chain.AddBlock(raw)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	for _, tx := range applied.Transactions {
		hash, err := tx.Hash()
		if err != nil {
			continue
		}
		if _, pending := w.OffChainTransactions[hash]; pending {
			delete(w.OffChainTransactions, hash)
		}
		w.OnChainTransactions[hash] = tx
	}
	w.mu.Unlock()

	w.RefreshFromChain()
	return applied, nil
}
