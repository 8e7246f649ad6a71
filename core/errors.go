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

// Package core implements the Celestium ledger: canonical serialization,
// the transaction and block model, the chain validator and UTXO index,
// and the parallel miner.
package core

import "errors"

// Category is the top-level error taxonomy every operation in core returns into.
type Category int

const (
	// CategoryCodec covers serialization/deserialization failures.
	CategoryCodec Category = iota
	// CategoryCrypto covers signature and key failures.
	CategoryCrypto
	// CategoryConsensus covers block-level replay failures.
	CategoryConsensus
	// CategoryLedger covers UTXO/NFT conservation failures.
	CategoryLedger
	// CategoryMiner covers mining-loop failures.
	CategoryMiner
	// CategoryIo covers archive/persistence failures.
	CategoryIo
)

func (c Category) String() string {
	switch c {
	case CategoryCodec:
		return "codec"
	case CategoryCrypto:
		return "crypto"
	case CategoryConsensus:
		return "consensus"
	case CategoryLedger:
		return "ledger"
	case CategoryMiner:
		return "miner"
	case CategoryIo:
		return "io"
	default:
		return "unknown"
	}
}

// Kind is the specific reason within a Category.
type Kind int

const (
	KindTruncated Kind = iota
	KindMalformed
	KindOutOfRange
	KindBadSignature
	KindBadKey
	KindMissingSignature
	KindWrongBackHash
	KindInsufficientWork
	KindMerkleMismatch
	KindUnknownOutput
	KindDoubleSpend
	KindValueMismatch
	KindDuplicateNft
	KindDuplicateNftMint
	KindMalformedBaseMessage
	KindCancelled
	KindExhausted
	KindNotFound
	KindCorrupt
)

var kindNames = map[Kind]string{
	KindTruncated:            "truncated",
	KindMalformed:            "malformed",
	KindOutOfRange:           "out_of_range",
	KindBadSignature:         "bad_signature",
	KindBadKey:               "bad_key",
	KindMissingSignature:     "missing_signature",
	KindWrongBackHash:        "wrong_back_hash",
	KindInsufficientWork:     "insufficient_work",
	KindMerkleMismatch:       "merkle_mismatch",
	KindUnknownOutput:        "unknown_output",
	KindDoubleSpend:          "double_spend",
	KindValueMismatch:        "value_mismatch",
	KindDuplicateNft:         "duplicate_nft",
	KindDuplicateNftMint:     "duplicate_nft_mint",
	KindMalformedBaseMessage: "malformed_base_message",
	KindCancelled:            "cancelled",
	KindExhausted:            "exhausted",
	KindNotFound:             "not_found",
	KindCorrupt:              "corrupt",
}

// Error is the structured error type returned by every core operation in
// place of the teacher's log.Panic(err)/string-formatted errors (design
// notes §9: "adopt a structured error enum rather than string-formatted
// errors; this is the single largest correctness improvement available").
type Error struct {
	Category Category
	Kind     Kind
	Msg      string
	Cause    error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Category.String() + ": " + kindNames[e.Kind]
	}
	return e.Category.String() + ": " + kindNames[e.Kind] + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, core.ErrDoubleSpend) style sentinels match on Kind
// regardless of message, the way callers actually want to branch.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Kind == t.Kind
}

func newErr(cat Category, kind Kind, msg string) *Error {
	return &Error{Category: cat, Kind: kind, Msg: msg}
}

func wrapErr(cat Category, kind Kind, msg string, cause error) *Error {
	return &Error{Category: cat, Kind: kind, Msg: msg, Cause: cause}
}

// Sentinels for errors.Is comparisons across package boundaries.
var (
	ErrTruncated            = newErr(CategoryCodec, KindTruncated, "")
	ErrMalformed            = newErr(CategoryCodec, KindMalformed, "")
	ErrOutOfRange           = newErr(CategoryCodec, KindOutOfRange, "")
	ErrBadSignature         = newErr(CategoryCrypto, KindBadSignature, "")
	ErrBadKey               = newErr(CategoryCrypto, KindBadKey, "")
	ErrMissingSignature     = newErr(CategoryLedger, KindMissingSignature, "")
	ErrWrongBackHash        = newErr(CategoryConsensus, KindWrongBackHash, "")
	ErrInsufficientWork     = newErr(CategoryConsensus, KindInsufficientWork, "")
	ErrMerkleMismatch       = newErr(CategoryConsensus, KindMerkleMismatch, "")
	ErrUnknownOutput        = newErr(CategoryLedger, KindUnknownOutput, "")
	ErrDoubleSpend          = newErr(CategoryLedger, KindDoubleSpend, "")
	ErrValueMismatch        = newErr(CategoryLedger, KindValueMismatch, "")
	ErrDuplicateNft         = newErr(CategoryLedger, KindDuplicateNft, "")
	ErrDuplicateNftMint     = newErr(CategoryLedger, KindDuplicateNftMint, "")
	ErrMalformedBaseMessage = newErr(CategoryLedger, KindMalformedBaseMessage, "")
	ErrCancelled            = newErr(CategoryMiner, KindCancelled, "")
	ErrExhausted            = newErr(CategoryMiner, KindExhausted, "")
	ErrNotFound             = newErr(CategoryIo, KindNotFound, "")
	ErrCorrupt              = newErr(CategoryIo, KindCorrupt, "")
)

// As is a thin convenience wrapper so callers outside core can pattern
// match without importing the standard errors package directly.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
