package core

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	chain := NewBlockchain(alwaysSatisfiedTarget(), big.NewInt(1337))
	kp := newKeyPair(t)
	return NewWallet(chain, kp, 1)
}

func TestWalletMineBlockCreditsFinderReward(t *testing.T) {
	w := newTestWallet(t)
	block, err := w.MineBlock(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, w.Chain.Height())
	require.Empty(t, block.Transactions)
	require.Equal(t, big.NewInt(1337), w.GetBalance())
}

func TestWalletNewPaymentAndMine(t *testing.T) {
	sender := newTestWallet(t)
	_, err := sender.MineBlock(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1337), sender.GetBalance())

	receiver := newKeyPair(t)
	_, err = sender.NewPayment(receiver.PK, big.NewInt(500), big.NewInt(10))
	require.NoError(t, err)

	_, err = sender.MineBlock(context.Background(), 1)
	require.NoError(t, err)

	// sender kept the change (1337 - 500 - 10) plus a second 1337 subsidy
	// plus the 10 dust fee it also collected as the block's finder.
	want := big.NewInt(1337 - 500 - 10 + 1337 + 10)
	require.Equal(t, want, sender.GetBalance())
}

func TestWalletNewPaymentDoesNotReuseOutputsOfPendingPayment(t *testing.T) {
	w := newTestWallet(t)
	_, err := w.MineBlock(context.Background(), 1)
	require.NoError(t, err)

	dst1 := newKeyPair(t).PK
	dst2 := newKeyPair(t).PK

	_, err = w.NewPayment(dst1, big.NewInt(1000), big.NewInt(1))
	require.NoError(t, err)

	// The wallet's spendable view no longer has enough dust left to
	// cover a second payment of the same size.
	_, err = w.NewPayment(dst2, big.NewInt(1000), big.NewInt(1))
	require.Error(t, err)
}

func TestWalletMintPixelNFT(t *testing.T) {
	w := newTestWallet(t)
	headHash := w.Chain.HeadHash()
	backPointer := HashPixel(headHash[:])

	var message [BaseMessageLen]byte
	copy(message[:PixelHashLen], backPointer[:])
	message[PixelHashLen] = 10   // x_hi
	message[PixelHashLen+1] = 20 // x_lo
	message[PixelHashLen+2] = 0  // y_hi
	message[PixelHashLen+3] = 5  // y_lo
	message[PixelHashLen+4] = 3  // color index

	id := HashTransaction(message[:])
	output := TransactionOutput{Value: NewIDValue(id), PK: w.KeyPair.PK}
	tx, err := NewIDBaseTransaction(headHash, message, output)
	require.NoError(t, err)

	require.NoError(t, w.AddOffChainTransaction(tx))
	_, err = w.MineBlock(context.Background(), 1)
	require.NoError(t, err)

	// NFTs() reports ids as TransactionValue.ID() carries them: the hash
	// with its top bit (the value tag) cleared.
	wantID, err := output.Value.ID()
	require.NoError(t, err)
	nfts := w.NFTs()
	require.Len(t, nfts, 1)
	require.Equal(t, wantID, nfts[0])
}

func TestWalletRejectsInsufficientBalance(t *testing.T) {
	w := newTestWallet(t)
	dst := newKeyPair(t).PK
	_, err := w.NewPayment(dst, big.NewInt(1), big.NewInt(1))
	require.Error(t, err)
}
