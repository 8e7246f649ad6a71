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

import "math/big"

// DustPerCEL is the number of dust units in one CEL (spec §6).
const DustPerCEL = "10000000000000000000000000000000" // 10^31, kept as a string literal for exact big.Int parsing

// valueTag distinguishes the two TransactionValue variants. It occupies
// the high bit of the encoded value's first byte (spec §3).
type valueTag byte

const (
	tagCoin valueTag = 0x00
	tagID   valueTag = 0x80
)

// TransactionValueLen is the fixed 32-byte width of an encoded TransactionValue.
const TransactionValueLen = 32

// TransactionValue is a tagged 32-byte union: either a non-negative
// 127-bit dust amount plus a fee, or a 255-bit NFT identifier (spec §3).
//
// Layout when tag == tagCoin: byte 0 high bit clear, remaining 127 bits of
// bytes[0:16] hold the dust amount (big-endian), bytes[16:32] hold the fee
// (also 128 bits, big-endian). Layout when tag == tagID: byte 0 high bit
// set, the low 255 bits across bytes[0:32] (masked) hold the NFT id.
type TransactionValue struct {
	tag    valueTag
	amount [16]byte // dust amount (coin) — high bit of amount[0] is always 0
	fee    [16]byte // fee (coin only)
	id     [32]byte // NFT id (id only)
}

// NewCoinValue builds a coin-transfer TransactionValue carrying amount
// dust and fee dust. Neither may set bit 127 of a 128-bit value (i.e.
// amounts above 2^127-1 are rejected) since that bit space is reserved by
// the tag.
func NewCoinValue(amount, fee *big.Int) (TransactionValue, error) {
	var v TransactionValue
	v.tag = tagCoin
	if amount.Sign() < 0 || fee.Sign() < 0 {
		return v, wrapErr(CategoryLedger, KindValueMismatch, "negative coin value", nil)
	}
	if amount.BitLen() > 127 || fee.BitLen() > 127 {
		return v, wrapErr(CategoryLedger, KindValueMismatch, "coin value out of range", nil)
	}
	amount.FillBytes(v.amount[:])
	fee.FillBytes(v.fee[:])
	return v, nil
}

// NewIDValue builds an NFT-transfer TransactionValue for id (the SHA3-256
// of an application-defined mint message, spec §3). The top bit of id is
// overwritten by the tag, so ID() returns id with that bit cleared.
func NewIDValue(id [32]byte) TransactionValue {
	var v TransactionValue
	v.tag = tagID
	v.id = id
	v.id[0] |= 0x80 // high bit of the encoded id marks the tag, mirrored below
	return v
}

// IsCoin reports whether v is a coin-transfer value.
func (v TransactionValue) IsCoin() bool { return v.tag == tagCoin }

// IsID reports whether v is an NFT-transfer value.
func (v TransactionValue) IsID() bool { return v.tag == tagID }

// Value returns the dust amount of a coin value, or an error if v is an NFT.
func (v TransactionValue) Value() (*big.Int, error) {
	if !v.IsCoin() {
		return nil, wrapErr(CategoryLedger, KindValueMismatch, "value() on non-coin TransactionValue", nil)
	}
	return new(big.Int).SetBytes(v.amount[:]), nil
}

// Fee returns the declared fee of a coin value, or an error if v is an NFT.
func (v TransactionValue) Fee() (*big.Int, error) {
	if !v.IsCoin() {
		return nil, wrapErr(CategoryLedger, KindValueMismatch, "fee() on non-coin TransactionValue", nil)
	}
	return new(big.Int).SetBytes(v.fee[:]), nil
}

// ID returns the NFT identifier, or an error if v is a coin value.
func (v TransactionValue) ID() ([32]byte, error) {
	if !v.IsID() {
		return [32]byte{}, wrapErr(CategoryLedger, KindValueMismatch, "id() on non-id TransactionValue", nil)
	}
	id := v.id
	id[0] &^= 0x80
	return id, nil
}

// SerializedLen implements Encodable.
func (TransactionValue) SerializedLen() int { return TransactionValueLen }

// SerializeInto implements Encodable.
func (v TransactionValue) SerializeInto(buf []byte, cur *int) error {
	if err := requireLen(buf, *cur, TransactionValueLen); err != nil {
		return err
	}
	if v.IsCoin() {
		putBytes(buf, cur, v.amount[:])
		putBytes(buf, cur, v.fee[:])
	} else {
		putBytes(buf, cur, v.id[:])
	}
	return nil
}

// TransactionValueFromSerialized decodes a TransactionValue starting at *cur.
func TransactionValueFromSerialized(buf []byte, cur *int) (TransactionValue, error) {
	var v TransactionValue
	raw, err := getBytes(buf, cur, TransactionValueLen)
	if err != nil {
		return v, err
	}
	if raw[0]&0x80 != 0 {
		v.tag = tagID
		copy(v.id[:], raw)
	} else {
		v.tag = tagCoin
		copy(v.amount[:], raw[:16])
		copy(v.fee[:], raw[16:])
	}
	return v, nil
}
