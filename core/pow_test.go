package core

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMineBlockFindsSatisfyingMagic(t *testing.T) {
	pk := newKeyPair(t).PK
	block := &Block{Version: 1, Finder: pk}
	miner := NewMiner(4)

	// Require the top 4 bits zero — easy enough to find quickly, but
	// tight enough to actually exercise the search loop (unlike a target
	// that accepts every hash on the first attempt).
	target := new(big.Int).Lsh(big.NewInt(1), 252)

	mined, err := miner.MineBlock(context.Background(), target, block)
	require.NoError(t, err)

	hash, err := mined.Hash()
	require.NoError(t, err)
	require.True(t, new(big.Int).SetBytes(hash[:]).Cmp(target) < 0)
	require.Greater(t, miner.Attempts(), uint64(0))
}

func TestMineBlockRespectsCancellation(t *testing.T) {
	pk := newKeyPair(t).PK
	block := &Block{Version: 1, Finder: pk}
	miner := NewMiner(2)

	// A target of zero is unsatisfiable, so the search runs until the
	// context is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := miner.MineBlock(ctx, big.NewInt(0), block)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestMineTransactionBuildsSingleTransactionBlock(t *testing.T) {
	pk := newKeyPair(t).PK
	var headHash [BlockHashLen]byte
	tx := newBaseTransaction(t, headHash, pk, 0x09)

	miner := NewMiner(1)
	target := new(big.Int).Lsh(big.NewInt(1), 256)

	block, err := miner.MineTransaction(context.Background(), target, 1, headHash, pk, tx)
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	require.Equal(t, headHash, block.BackHash)
}
