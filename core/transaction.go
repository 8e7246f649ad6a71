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

import (
	"math/big"
)

// BaseMessageLen is the fixed length of a base transaction's payload.
const BaseMessageLen = 33

// TransactionInput names a prior output: (block_hash, transaction_hash,
// output_index). The chain's UTXO index and the wallet resolve an input
// only by an exact (block_hash, transaction_hash, output_index) match; a
// zero block_hash gets no special treatment, so an output of a still
// pending transaction cannot be referenced.
type TransactionInput struct {
	BlockHash       [BlockHashLen]byte
	TransactionHash [TransactionHashLen]byte
	OutputIndex     uint8
}

const transactionInputLen = BlockHashLen + TransactionHashLen + 1

// SerializedLen implements Encodable.
func (TransactionInput) SerializedLen() int { return transactionInputLen }

// SerializeInto implements Encodable.
func (in TransactionInput) SerializeInto(buf []byte, cur *int) error {
	if err := requireLen(buf, *cur, transactionInputLen); err != nil {
		return err
	}
	putBytes(buf, cur, in.BlockHash[:])
	putBytes(buf, cur, in.TransactionHash[:])
	putByte(buf, cur, in.OutputIndex)
	return nil
}

// transactionInputFromSerialized decodes a TransactionInput at *cur.
func transactionInputFromSerialized(buf []byte, cur *int) (TransactionInput, error) {
	var in TransactionInput
	bh, err := getBytes(buf, cur, BlockHashLen)
	if err != nil {
		return in, err
	}
	th, err := getBytes(buf, cur, TransactionHashLen)
	if err != nil {
		return in, err
	}
	idx, err := getByte(buf, cur)
	if err != nil {
		return in, err
	}
	copy(in.BlockHash[:], bh)
	copy(in.TransactionHash[:], th)
	in.OutputIndex = idx
	return in, nil
}

// TransactionOutput hands value to pk (spec §3).
type TransactionOutput struct {
	Value TransactionValue
	PK    PublicKey
}

const transactionOutputLen = TransactionValueLen + PublicKeyLen

// SerializedLen implements Encodable.
func (TransactionOutput) SerializedLen() int { return transactionOutputLen }

// SerializeInto implements Encodable.
func (out TransactionOutput) SerializeInto(buf []byte, cur *int) error {
	if err := requireLen(buf, *cur, transactionOutputLen); err != nil {
		return err
	}
	if err := out.Value.SerializeInto(buf, cur); err != nil {
		return err
	}
	putBytes(buf, cur, out.PK[:])
	return nil
}

// TransactionOutputFromSerialized decodes a TransactionOutput at *cur —
// exported for storage.Archive, which persists the wallet's unspent-output
// index as a flat stream of (UTXOKey, TransactionOutput) pairs.
func TransactionOutputFromSerialized(buf []byte, cur *int) (TransactionOutput, error) {
	return transactionOutputFromSerialized(buf, cur)
}

func transactionOutputFromSerialized(buf []byte, cur *int) (TransactionOutput, error) {
	var out TransactionOutput
	v, err := TransactionValueFromSerialized(buf, cur)
	if err != nil {
		return out, err
	}
	pk, err := getBytes(buf, cur, PublicKeyLen)
	if err != nil {
		return out, err
	}
	out.Value = v
	copy(out.PK[:], pk)
	return out, nil
}

// InputResolver looks up the public key and value of the output a
// TransactionInput references. The chain validator's UTXO index and the
// wallet's pending pool both implement this; it is how Transaction
// decoding and local Verify() learn facts (spending key, input value) the
// wire format itself does not carry (spec §3's TransactionInput only
// names a prior output's location, not its owner or worth).
type InputResolver func(TransactionInput) (PublicKey, TransactionValue, error)

// Transaction is the unit of value transfer: inputs referencing prior
// outputs, outputs bound to public keys, an optional base message, and
// one ECDSA signature per distinct spending key (spec §3).
type Transaction struct {
	Inputs      []TransactionInput
	Outputs     []TransactionOutput
	BaseMessage *[BaseMessageLen]byte
	Signatures  []Signature

	// companions resolved at construction (by the wallet) or at decode
	// time (by the supplied InputResolver); never serialized.
	inputPKs    []PublicKey
	inputValues []TransactionValue
}

// IsBase reports whether tx has no inputs (a base/minting transaction).
func (tx *Transaction) IsBase() bool { return len(tx.Inputs) == 0 }

// distinctInputPKs returns the spending public keys in first-seen input
// order, deduplicated — the order Signatures must follow (spec §4.1).
func distinctInputPKs(pks []PublicKey) []PublicKey {
	seen := make(map[PublicKey]bool, len(pks))
	var out []PublicKey
	for _, pk := range pks {
		if seen[pk] {
			continue
		}
		seen[pk] = true
		out = append(out, pk)
	}
	return out
}

// bodyLen is the length of the canonical bytes excluding the signature trailer.
func (tx *Transaction) bodyLen() int {
	n := 1 // input-count/has-base-message header byte
	n += len(tx.Inputs) * transactionInputLen
	n += 1 // output-count byte
	n += len(tx.Outputs) * transactionOutputLen
	if tx.BaseMessage != nil {
		n += BaseMessageLen
	}
	return n
}

func (tx *Transaction) serializeBodyInto(buf []byte, cur *int) error {
	if len(tx.Inputs) > 0x7f {
		return wrapErr(CategoryCodec, KindOutOfRange, "too many inputs", nil)
	}
	if len(tx.Outputs) > 0xff {
		return wrapErr(CategoryCodec, KindOutOfRange, "too many outputs", nil)
	}
	header := byte(len(tx.Inputs))
	if tx.BaseMessage != nil {
		header |= 0x80
	}
	putByte(buf, cur, header)
	for _, in := range tx.Inputs {
		if err := in.SerializeInto(buf, cur); err != nil {
			return err
		}
	}
	putByte(buf, cur, byte(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		if err := out.SerializeInto(buf, cur); err != nil {
			return err
		}
	}
	if tx.BaseMessage != nil {
		putBytes(buf, cur, tx.BaseMessage[:])
	}
	return nil
}

// bodyBytes returns the canonical encoding excluding signatures — the
// bytes whose SHA3-256 is the transaction hash and whose SHA-256 is the
// signing digest (spec §3, §4.2).
func (tx *Transaction) bodyBytes() ([]byte, error) {
	buf := make([]byte, tx.bodyLen())
	cur := 0
	if err := tx.serializeBodyInto(buf, &cur); err != nil {
		return nil, err
	}
	return buf, nil
}

// Hash returns the transaction's SHA3-256 identity (spec §3).
func (tx *Transaction) Hash() ([TransactionHashLen]byte, error) {
	body, err := tx.bodyBytes()
	if err != nil {
		return [TransactionHashLen]byte{}, err
	}
	return HashTransaction(body), nil
}

// SerializedLen implements Encodable: body plus one 64-byte signature per
// distinct spending key.
func (tx *Transaction) SerializedLen() int {
	return tx.bodyLen() + len(tx.Signatures)*SignatureLen
}

// SerializeInto implements Encodable.
func (tx *Transaction) SerializeInto(buf []byte, cur *int) error {
	if err := tx.serializeBodyInto(buf, cur); err != nil {
		return err
	}
	for _, sig := range tx.Signatures {
		if err := requireLen(buf, *cur, SignatureLen); err != nil {
			return err
		}
		putBytes(buf, cur, sig[:])
	}
	return nil
}

// TransactionFromSerialized decodes a Transaction at *cur. resolve is
// consulted once per input to learn its spending key and value, which
// both determines how many trailing signatures to read (one per distinct
// key) and populates the companions Verify() needs. For a base
// transaction (zero inputs) resolve is never called.
func TransactionFromSerialized(buf []byte, cur *int, resolve InputResolver) (*Transaction, error) {
	header, err := getByte(buf, cur)
	if err != nil {
		return nil, err
	}
	hasBase := header&0x80 != 0
	inputCount := int(header & 0x7f)

	tx := &Transaction{}
	tx.Inputs = make([]TransactionInput, 0, inputCount)
	for i := 0; i < inputCount; i++ {
		in, err := transactionInputFromSerialized(buf, cur)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	outCount, err := getByte(buf, cur)
	if err != nil {
		return nil, err
	}
	tx.Outputs = make([]TransactionOutput, 0, outCount)
	for i := 0; i < int(outCount); i++ {
		out, err := transactionOutputFromSerialized(buf, cur)
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, out)
	}

	if hasBase {
		msg, err := getBytes(buf, cur, BaseMessageLen)
		if err != nil {
			return nil, err
		}
		var arr [BaseMessageLen]byte
		copy(arr[:], msg)
		tx.BaseMessage = &arr
	}

	if len(tx.Inputs) > 0 {
		if resolve == nil {
			return nil, wrapErr(CategoryCodec, KindMalformed, "transaction has inputs but no resolver was supplied", nil)
		}
		tx.inputPKs = make([]PublicKey, len(tx.Inputs))
		tx.inputValues = make([]TransactionValue, len(tx.Inputs))
		for i, in := range tx.Inputs {
			pk, val, err := resolve(in)
			if err != nil {
				return nil, err
			}
			tx.inputPKs[i] = pk
			tx.inputValues[i] = val
		}
		distinct := distinctInputPKs(tx.inputPKs)
		tx.Signatures = make([]Signature, len(distinct))
		for i := range distinct {
			sig, err := getBytes(buf, cur, SignatureLen)
			if err != nil {
				return nil, err
			}
			copy(tx.Signatures[i][:], sig)
		}
	}

	return tx, nil
}

// NewCoinTransfer builds a coin-transfer transaction: per §4.3 the sum of
// resolved input dust must equal the sum of output dust plus a single
// positive fee. inputPKs/inputValues resolve each input the way the
// wallet already knows it (from its own UTXO lookups).
func NewCoinTransfer(inputs []TransactionInput, inputPKs []PublicKey, inputValues []TransactionValue, outputs []TransactionOutput) (*Transaction, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, wrapErr(CategoryLedger, KindValueMismatch, "coin transfer needs at least one input and one output", nil)
	}
	if len(inputs) != len(inputPKs) || len(inputs) != len(inputValues) {
		return nil, wrapErr(CategoryLedger, KindValueMismatch, "input companions length mismatch", nil)
	}

	inTotal := new(big.Int)
	for _, v := range inputValues {
		amt, err := v.Value()
		if err != nil {
			return nil, wrapErr(CategoryLedger, KindValueMismatch, "coin transfer input is not a coin value", err)
		}
		inTotal.Add(inTotal, amt)
	}
	outTotal := new(big.Int)
	var fee *big.Int
	for _, o := range outputs {
		amt, err := o.Value.Value()
		if err != nil {
			return nil, wrapErr(CategoryLedger, KindValueMismatch, "coin transfer output is not a coin value", err)
		}
		outTotal.Add(outTotal, amt)
		f, err := o.Value.Fee()
		if err != nil {
			return nil, err
		}
		if f.Sign() != 0 {
			if fee != nil {
				return nil, wrapErr(CategoryLedger, KindValueMismatch, "more than one output declares a fee", nil)
			}
			fee = f
		}
	}
	if fee == nil {
		fee = big.NewInt(0)
	}
	want := new(big.Int).Add(outTotal, fee)
	if inTotal.Cmp(want) != 0 || fee.Sign() <= 0 {
		return nil, wrapErr(CategoryLedger, KindValueMismatch, "input dust must equal output dust plus a single positive fee", nil)
	}

	tx := &Transaction{Inputs: inputs, Outputs: outputs, inputPKs: inputPKs, inputValues: inputValues}
	return tx, nil
}

// NewIDTransfer builds an NFT-transfer transaction: every NFT referenced
// by inputs appears in outputs exactly once, and no NFT is duplicated
// (spec §3).
func NewIDTransfer(inputs []TransactionInput, inputPKs []PublicKey, inputValues []TransactionValue, outputs []TransactionOutput) (*Transaction, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, wrapErr(CategoryLedger, KindDuplicateNft, "id transfer needs at least one input and one output", nil)
	}
	if len(inputs) != len(inputPKs) || len(inputs) != len(inputValues) {
		return nil, wrapErr(CategoryLedger, KindDuplicateNft, "input companions length mismatch", nil)
	}

	inIDs := make(map[[32]byte]bool, len(inputValues))
	for _, v := range inputValues {
		id, err := v.ID()
		if err != nil {
			return nil, wrapErr(CategoryLedger, KindDuplicateNft, "id transfer input is not an id value", err)
		}
		if inIDs[id] {
			return nil, ErrDuplicateNft
		}
		inIDs[id] = true
	}
	outIDs := make(map[[32]byte]bool, len(outputs))
	for _, o := range outputs {
		id, err := o.Value.ID()
		if err != nil {
			return nil, wrapErr(CategoryLedger, KindDuplicateNft, "id transfer output is not an id value", err)
		}
		if outIDs[id] {
			return nil, ErrDuplicateNft
		}
		outIDs[id] = true
	}
	if len(inIDs) != len(outIDs) {
		return nil, wrapErr(CategoryLedger, KindDuplicateNft, "every input NFT must appear in outputs exactly once", nil)
	}
	for id := range inIDs {
		if !outIDs[id] {
			return nil, wrapErr(CategoryLedger, KindDuplicateNft, "input NFT missing from outputs", nil)
		}
	}

	tx := &Transaction{Inputs: inputs, Outputs: outputs, inputPKs: inputPKs, inputValues: inputValues}
	return tx, nil
}

// NewIDBaseTransaction mints a new NFT with no inputs. message must embed
// the anti-replay back-pointer to headHash (spec §4.3, §4.5): its first
// PixelHashLen bytes must equal HashPixel(headHash[:]). output must carry
// NewIDValue(HashTransaction(message[:])); the id is compared as
// TransactionValue.ID() returns it, with the tag bit cleared.
func NewIDBaseTransaction(headHash [BlockHashLen]byte, message [BaseMessageLen]byte, output TransactionOutput) (*Transaction, error) {
	backPointer := HashPixel(headHash[:])
	var messagePrefix [PixelHashLen]byte
	copy(messagePrefix[:], message[:PixelHashLen])
	if messagePrefix != backPointer {
		return nil, wrapErr(CategoryLedger, KindMalformedBaseMessage, "base message back-pointer does not match chain head", nil)
	}
	id, err := output.Value.ID()
	if err != nil {
		return nil, wrapErr(CategoryLedger, KindMalformedBaseMessage, "base transaction output must be an id value", err)
	}
	wantID, _ := NewIDValue(HashTransaction(message[:])).ID()
	if id != wantID {
		return nil, wrapErr(CategoryLedger, KindMalformedBaseMessage, "base transaction output id must be SHA3-256(message)", nil)
	}

	msg := message
	return &Transaction{Outputs: []TransactionOutput{output}, BaseMessage: &msg}, nil
}

// Sign appends one signature for the distinct spending key that matches
// sk. The caller signs once per distinct key (spec §4.3); calling Sign
// once per owning keypair builds up tx.Signatures in the correct input
// order regardless of call order.
func (tx *Transaction) Sign(sk SecretKey) error {
	if tx.IsBase() {
		return nil
	}
	pk, err := PublicKeyFromSecret(sk)
	if err != nil {
		return err
	}
	distinct := distinctInputPKs(tx.inputPKs)
	idx := -1
	for i, want := range distinct {
		if want == pk {
			idx = i
			break
		}
	}
	if idx == -1 {
		return wrapErr(CategoryLedger, KindMissingSignature, "secret key does not match any spending input", nil)
	}
	body, err := tx.bodyBytes()
	if err != nil {
		return err
	}
	sig, err := Sign(sk, SigningDigest(body))
	if err != nil {
		return err
	}
	for len(tx.Signatures) <= idx {
		tx.Signatures = append(tx.Signatures, Signature{})
	}
	tx.Signatures[idx] = sig
	return nil
}

// Verify recomputes the signing digest, verifies every signature against
// its resolved spending key, and re-checks conservation (spec §4.3).
func (tx *Transaction) Verify() error {
	if tx.IsBase() {
		if tx.BaseMessage == nil || len(tx.Outputs) != 1 {
			return ErrMalformedBaseMessage
		}
		return nil
	}
	if len(tx.inputPKs) != len(tx.Inputs) || len(tx.inputValues) != len(tx.Inputs) {
		return wrapErr(CategoryLedger, KindMissingSignature, "transaction was not resolved against its inputs", nil)
	}
	distinct := distinctInputPKs(tx.inputPKs)
	if len(tx.Signatures) != len(distinct) {
		return ErrMissingSignature
	}
	body, err := tx.bodyBytes()
	if err != nil {
		return err
	}
	digest := SigningDigest(body)
	for i, pk := range distinct {
		if !Verify(pk, digest, tx.Signatures[i]) {
			return ErrBadSignature
		}
	}

	if tx.isCoinTransfer() {
		return tx.verifyCoinConservation()
	}
	return tx.verifyIDConservation()
}

func (tx *Transaction) isCoinTransfer() bool {
	return len(tx.Outputs) > 0 && tx.Outputs[0].Value.IsCoin()
}

func (tx *Transaction) verifyCoinConservation() error {
	inTotal := new(big.Int)
	for _, v := range tx.inputValues {
		amt, err := v.Value()
		if err != nil {
			return wrapErr(CategoryLedger, KindValueMismatch, "coin transfer input is not a coin value", err)
		}
		inTotal.Add(inTotal, amt)
	}
	outTotal := new(big.Int)
	var fee *big.Int
	for _, o := range tx.Outputs {
		amt, err := o.Value.Value()
		if err != nil {
			return wrapErr(CategoryLedger, KindValueMismatch, "coin transfer output is not a coin value", err)
		}
		outTotal.Add(outTotal, amt)
		f, err := o.Value.Fee()
		if err != nil {
			return err
		}
		if f.Sign() != 0 {
			if fee != nil {
				return ErrValueMismatch
			}
			fee = f
		}
	}
	if fee == nil {
		fee = big.NewInt(0)
	}
	want := new(big.Int).Add(outTotal, fee)
	if inTotal.Cmp(want) != 0 {
		return ErrValueMismatch
	}
	return nil
}

func (tx *Transaction) verifyIDConservation() error {
	inIDs := make(map[[32]byte]bool, len(tx.inputValues))
	for _, v := range tx.inputValues {
		id, err := v.ID()
		if err != nil {
			return wrapErr(CategoryLedger, KindDuplicateNft, "id transfer input is not an id value", err)
		}
		if inIDs[id] {
			return ErrDuplicateNft
		}
		inIDs[id] = true
	}
	outIDs := make(map[[32]byte]bool, len(tx.Outputs))
	for _, o := range tx.Outputs {
		id, err := o.Value.ID()
		if err != nil {
			return wrapErr(CategoryLedger, KindDuplicateNft, "id transfer output is not an id value", err)
		}
		if outIDs[id] {
			return ErrDuplicateNft
		}
		outIDs[id] = true
	}
	if len(inIDs) != len(outIDs) {
		return ErrDuplicateNft
	}
	for id := range inIDs {
		if !outIDs[id] {
			return ErrDuplicateNft
		}
	}
	return nil
}
