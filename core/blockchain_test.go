package core

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// alwaysSatisfiedTarget accepts any 256-bit hash, so mining in tests
// finds a winning magic on the first try instead of searching.
func alwaysSatisfiedTarget() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 256)
}

func mineBlockBytes(t *testing.T, chain *Blockchain, finder PublicKey, txs []*Transaction) []byte {
	t.Helper()
	block := &Block{
		Version:      1,
		BackHash:     chain.HeadHash(),
		Finder:       finder,
		Transactions: txs,
	}
	miner := NewMiner(1)
	mined, err := miner.MineBlock(context.Background(), chain.DifficultyTarget, block)
	require.NoError(t, err)
	encoded, err := Encode(mined)
	require.NoError(t, err)
	return encoded
}

func TestAddBlockAcceptsGenesis(t *testing.T) {
	chain := NewBlockchain(alwaysSatisfiedTarget(), big.NewInt(1337))
	finder := newKeyPair(t).PK

	raw := mineBlockBytes(t, chain, finder, nil)
	_, err := chain.AddBlock(raw)
	require.NoError(t, err)
	require.Equal(t, 1, chain.Height())

	reward := chain.UnspentOutputsFor(finder)
	require.Len(t, reward, 1)
}

func TestAddBlockRejectsWrongBackHash(t *testing.T) {
	chain := NewBlockchain(alwaysSatisfiedTarget(), big.NewInt(1337))
	finder := newKeyPair(t).PK

	block := &Block{Version: 1, BackHash: [BlockHashLen]byte{0xff}, Finder: finder}
	miner := NewMiner(1)
	mined, err := miner.MineBlock(context.Background(), chain.DifficultyTarget, block)
	require.NoError(t, err)
	encoded, err := Encode(mined)
	require.NoError(t, err)

	_, err = chain.AddBlock(encoded)
	require.ErrorIs(t, err, ErrWrongBackHash)
	require.Equal(t, 0, chain.Height())
}

func TestAddBlockRejectsInsufficientWork(t *testing.T) {
	// A target of zero is never satisfied by any hash.
	chain := NewBlockchain(big.NewInt(0), big.NewInt(1337))
	finder := newKeyPair(t).PK

	block := &Block{Version: 1, BackHash: chain.HeadHash(), Finder: finder}
	require.NoError(t, block.RecomputeMerkleRoot())
	block.Magic = []byte{0x00}

	encoded, err := Encode(block)
	require.NoError(t, err)

	_, err = chain.AddBlock(encoded)
	require.ErrorIs(t, err, ErrInsufficientWork)
	require.Equal(t, 0, chain.Height())
}

func TestAddBlockLeavesCursorUnadvancedOnFailure(t *testing.T) {
	chain := NewBlockchain(alwaysSatisfiedTarget(), big.NewInt(1337))
	finder := newKeyPair(t).PK

	block := &Block{Version: 1, BackHash: [BlockHashLen]byte{0xff}, Finder: finder}
	miner := NewMiner(1)
	mined, err := miner.MineBlock(context.Background(), chain.DifficultyTarget, block)
	require.NoError(t, err)
	encoded, err := Encode(mined)
	require.NoError(t, err)

	buf := append(encoded, 0x00, 0x01, 0x02)
	cur := 0
	_, err = chain.AddBlockBytesAt(buf, &cur)
	require.Error(t, err)
	require.Equal(t, 0, cur)
}

func TestAddBlockRejectsDuplicateNFTMintWithinSameBlock(t *testing.T) {
	chain := NewBlockchain(alwaysSatisfiedTarget(), big.NewInt(1337))
	finder := newKeyPair(t).PK

	genesis := mineBlockBytes(t, chain, finder, nil)
	_, err := chain.AddBlock(genesis)
	require.NoError(t, err)

	headHash := chain.HeadHash()
	// Two base transactions with an identical message (same back-pointer,
	// same payload tag) mint the same NFT id — the second must be
	// rejected even though both are otherwise individually valid.
	tx1 := newBaseTransaction(t, headHash, finder, 0x07)
	tx2 := newBaseTransaction(t, headHash, finder, 0x07)

	raw := mineBlockBytes(t, chain, finder, []*Transaction{tx1, tx2})
	_, err = chain.AddBlock(raw)
	require.ErrorIs(t, err, ErrDuplicateNftMint)
	require.Equal(t, 1, chain.Height())
}

func TestVerifyBaseTransactionRejectsStaleBackPointer(t *testing.T) {
	chain := NewBlockchain(alwaysSatisfiedTarget(), big.NewInt(1337))
	finder := newKeyPair(t).PK

	genesis := mineBlockBytes(t, chain, finder, nil)
	_, err := chain.AddBlock(genesis)
	require.NoError(t, err)

	staleHeadHash := [BlockHashLen]byte{}
	tx := newBaseTransaction(t, staleHeadHash, finder, 0x01)

	raw := mineBlockBytes(t, chain, finder, []*Transaction{tx})
	_, err = chain.AddBlock(raw)
	require.ErrorIs(t, err, ErrWrongBackHash)
}

func TestLookupOutputFailsForUnknownInput(t *testing.T) {
	chain := NewBlockchain(alwaysSatisfiedTarget(), big.NewInt(1337))
	_, _, err := chain.LookupOutput(TransactionInput{OutputIndex: 0})
	require.ErrorIs(t, err, ErrUnknownOutput)
}
