package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"celestium/core"
)

func easyTarget() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 256)
}

func newTempWallet(t *testing.T) (*Archive, *core.Wallet) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.db")
	archive, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	w, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), true, true, false)
	require.NoError(t, err)
	return archive, w
}

func TestLoadWalletGeneratesAndPersistsKeypair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")
	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	w1, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), true, true, false)
	require.NoError(t, err)
	require.NoError(t, archive.SaveWallet(w1))

	w2, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), true, true, false)
	require.NoError(t, err)
	require.Equal(t, w1.KeyPair.PK, w2.KeyPair.PK)
	require.Equal(t, w1.KeyPair.SK, w2.KeyPair.SK)
}

func TestArchiveRoundTripsMinedChainAndBalance(t *testing.T) {
	archive, w := newTempWallet(t)

	_, err := w.MineBlock(context.Background(), 1)
	require.NoError(t, err)
	_, err = w.MineBlock(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, archive.SaveWallet(w))

	reloaded, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), true, true, false)
	require.NoError(t, err)
	require.Equal(t, w.Chain.Height(), reloaded.Chain.Height())
	require.Equal(t, w.Chain.HeadHash(), reloaded.Chain.HeadHash())
	require.Equal(t, w.GetBalance(), reloaded.GetBalance())
	require.Len(t, reloaded.OnChainTransactions, 0)
}

func TestArchiveRoundTripsOffChainTransaction(t *testing.T) {
	archive, w := newTempWallet(t)
	_, err := w.MineBlock(context.Background(), 1)
	require.NoError(t, err)

	receiver, err := core.GenerateKeyPair()
	require.NoError(t, err)

	_, err = w.NewPayment(receiver.PK, big.NewInt(100), big.NewInt(1))
	require.NoError(t, err)

	require.NoError(t, archive.SaveWallet(w))

	reloaded, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), true, true, false)
	require.NoError(t, err)
	require.Len(t, reloaded.OffChainTransactions, 1)
}

func TestArchiveRoundTripsOnChainTransactionAsHashIndex(t *testing.T) {
	archive, w := newTempWallet(t)
	_, err := w.MineBlock(context.Background(), 1)
	require.NoError(t, err)

	headHash := w.Chain.HeadHash()
	backPointer := core.HashPixel(headHash[:])
	var message [core.BaseMessageLen]byte
	copy(message[:core.PixelHashLen], backPointer[:])
	message[core.PixelHashLen] = 1

	id := core.HashTransaction(message[:])
	output := core.TransactionOutput{Value: core.NewIDValue(id), PK: w.KeyPair.PK}
	tx, err := core.NewIDBaseTransaction(headHash, message, output)
	require.NoError(t, err)
	require.NoError(t, w.AddOffChainTransaction(tx))

	_, err = w.MineBlock(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, w.OnChainTransactions, 1)

	require.NoError(t, archive.SaveWallet(w))

	reloaded, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), true, true, false)
	require.NoError(t, err)
	require.Len(t, reloaded.OnChainTransactions, 1)
	require.Len(t, reloaded.NFTLookups, 1)
}

func TestLoadWalletHonorsReloadFlags(t *testing.T) {
	archive, w := newTempWallet(t)
	_, err := w.MineBlock(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, archive.SaveWallet(w))

	// Overwrite the persisted unspent_outputs blob with an empty set, the
	// way a stale cache would look — genuinely different from what
	// replaying the blockchain blob produces.
	emptyBlob, err := encodeUnspentOutputs(map[core.UTXOKey]core.TransactionOutput{})
	require.NoError(t, err)
	require.NoError(t, archive.writeBlob(blobUnspentOutputs, emptyBlob))

	trusting, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), false, true, false)
	require.NoError(t, err)
	require.Len(t, trusting.UnspentOutputs, 0, "reloadUnspentOutputs=false must trust the persisted blob")

	reloading, err := archive.LoadWallet(1, easyTarget(), big.NewInt(1337), true, true, false)
	require.NoError(t, err)
	require.Len(t, reloading.UnspentOutputs, 1, "reloadUnspentOutputs=true must recompute from chain state")
}
