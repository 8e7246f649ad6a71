package core

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func TestCoinTransferSignAndVerify(t *testing.T) {
	sender := newKeyPair(t)
	receiver := newKeyPair(t)

	inValue, err := NewCoinValue(big.NewInt(100), big.NewInt(0))
	require.NoError(t, err)
	input := TransactionInput{TransactionHash: [TransactionHashLen]byte{1}, OutputIndex: 0}

	outValue, err := NewCoinValue(big.NewInt(90), big.NewInt(10))
	require.NoError(t, err)
	output := TransactionOutput{Value: outValue, PK: receiver.PK}

	tx, err := NewCoinTransfer([]TransactionInput{input}, []PublicKey{sender.PK}, []TransactionValue{inValue}, []TransactionOutput{output})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(sender.SK))
	require.NoError(t, tx.Verify())
}

func TestCoinTransferRejectsUnbalancedValue(t *testing.T) {
	sender := newKeyPair(t)
	inValue, err := NewCoinValue(big.NewInt(100), big.NewInt(0))
	require.NoError(t, err)
	input := TransactionInput{OutputIndex: 0}

	// output total (100) + fee (10) != input total (100)
	outValue, err := NewCoinValue(big.NewInt(100), big.NewInt(10))
	require.NoError(t, err)
	output := TransactionOutput{Value: outValue, PK: sender.PK}

	_, err = NewCoinTransfer([]TransactionInput{input}, []PublicKey{sender.PK}, []TransactionValue{inValue}, []TransactionOutput{output})
	require.Error(t, err)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	sender := newKeyPair(t)
	receiver := newKeyPair(t)

	inValue, err := NewCoinValue(big.NewInt(50), big.NewInt(0))
	require.NoError(t, err)
	input := TransactionInput{OutputIndex: 0}
	outValue, err := NewCoinValue(big.NewInt(45), big.NewInt(5))
	require.NoError(t, err)
	output := TransactionOutput{Value: outValue, PK: receiver.PK}

	tx, err := NewCoinTransfer([]TransactionInput{input}, []PublicKey{sender.PK}, []TransactionValue{inValue}, []TransactionOutput{output})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(sender.SK))

	tx.Signatures[0][0] ^= 0xff
	require.Error(t, tx.Verify())
}

func TestTransactionRoundTripsThroughEncoding(t *testing.T) {
	sender := newKeyPair(t)
	receiver := newKeyPair(t)

	inValue, err := NewCoinValue(big.NewInt(100), big.NewInt(0))
	require.NoError(t, err)
	input := TransactionInput{TransactionHash: [TransactionHashLen]byte{7}, OutputIndex: 0}
	outValue, err := NewCoinValue(big.NewInt(90), big.NewInt(10))
	require.NoError(t, err)
	output := TransactionOutput{Value: outValue, PK: receiver.PK}

	tx, err := NewCoinTransfer([]TransactionInput{input}, []PublicKey{sender.PK}, []TransactionValue{inValue}, []TransactionOutput{output})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(sender.SK))

	encoded, err := Encode(tx)
	require.NoError(t, err)

	resolver := func(in TransactionInput) (PublicKey, TransactionValue, error) {
		return sender.PK, inValue, nil
	}
	cur := 0
	decoded, err := TransactionFromSerialized(encoded, &cur, resolver)
	require.NoError(t, err)
	require.Equal(t, len(encoded), cur)
	require.NoError(t, decoded.Verify())

	originalHash, err := tx.Hash()
	require.NoError(t, err)
	decodedHash, err := decoded.Hash()
	require.NoError(t, err)
	require.Equal(t, originalHash, decodedHash)
}

func TestBaseTransactionRequiresMatchingBackPointer(t *testing.T) {
	var headHash [BlockHashLen]byte
	backPointer := HashPixel(headHash[:])

	var message [BaseMessageLen]byte
	copy(message[:PixelHashLen], backPointer[:])
	message[PixelHashLen] = 0x01

	id := HashTransaction(message[:])
	pk := newKeyPair(t).PK
	output := TransactionOutput{Value: NewIDValue(id), PK: pk}

	tx, err := NewIDBaseTransaction(headHash, message, output)
	require.NoError(t, err)
	require.True(t, tx.IsBase())
	require.NoError(t, tx.Verify())

	var wrongHead [BlockHashLen]byte
	wrongHead[0] = 0xff
	_, err = NewIDBaseTransaction(wrongHead, message, output)
	require.Error(t, err)
}

func TestIDTransferRejectsDuplicateNFT(t *testing.T) {
	pk := newKeyPair(t).PK
	var id [32]byte
	id[0] = 0x01
	idVal := NewIDValue(id)

	input := TransactionInput{OutputIndex: 0}
	output := TransactionOutput{Value: idVal, PK: pk}

	_, err := NewIDTransfer(
		[]TransactionInput{input, input},
		[]PublicKey{pk, pk},
		[]TransactionValue{idVal, idVal},
		[]TransactionOutput{output},
	)
	require.Error(t, err)
}
