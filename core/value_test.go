package core

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoinValueRoundTrip(t *testing.T) {
	v, err := NewCoinValue(big.NewInt(1000), big.NewInt(5))
	require.NoError(t, err)
	require.True(t, v.IsCoin())
	require.False(t, v.IsID())

	amt, err := v.Value()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), amt)

	fee, err := v.Fee()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), fee)

	encoded, err := Encode(v)
	require.NoError(t, err)
	cur := 0
	decoded, err := TransactionValueFromSerialized(encoded, &cur)
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}

func TestCoinValueRejectsNegativeAmounts(t *testing.T) {
	_, err := NewCoinValue(big.NewInt(-1), big.NewInt(0))
	require.Error(t, err)
}

func TestCoinValueRejectsOutOfRangeAmounts(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 127)
	_, err := NewCoinValue(tooBig, big.NewInt(0))
	require.Error(t, err)
}

func TestIDValueRoundTrip(t *testing.T) {
	var id [32]byte
	copy(id[:], []byte("0123456789abcdef0123456789abcde"))
	v := NewIDValue(id)
	require.True(t, v.IsID())
	require.False(t, v.IsCoin())

	got, err := v.ID()
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = v.Value()
	require.Error(t, err)
}
