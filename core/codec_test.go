package core

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTripsTransactionOutput(t *testing.T) {
	value, err := NewCoinValue(big.NewInt(42), big.NewInt(1))
	require.NoError(t, err)
	out := TransactionOutput{Value: value, PK: PublicKey{0x02, 0x03}}

	encoded, err := Encode(out)
	require.NoError(t, err)
	require.Equal(t, out.SerializedLen(), len(encoded))

	cur := 0
	decoded, err := TransactionOutputFromSerialized(encoded, &cur)
	require.NoError(t, err)
	require.Equal(t, len(encoded), cur)
	require.Equal(t, out, decoded)
}

func TestGetBytesRejectsTruncatedBuffers(t *testing.T) {
	buf := []byte{0x01, 0x02}
	cur := 0
	_, err := getBytes(buf, &cur, 5)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestEndMarkerIsNotAValidTransactionPrefix(t *testing.T) {
	cur := 0
	_, err := TransactionFromSerialized(EndMarker[:], &cur, nil)
	require.Error(t, err)
}
