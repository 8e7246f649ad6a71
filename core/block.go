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

// Block is the unit of chain extension: a header (version, merkle_root,
// back_hash, finder, magic) plus its ordered transaction body (spec §3).
// Unlike the teacher's gob-encoded Block, hash and nonce are not stored
// fields — Hash is recomputed from the canonical bytes (including magic)
// on demand, the way a receiver must after reading a block off the wire.
type Block struct {
	Version      uint16
	MerkleRoot   [TransactionHashLen]byte
	BackHash     [BlockHashLen]byte
	Finder       PublicKey
	Transactions []*Transaction
	Magic        []byte
}

const blockHeaderLen = 2 + TransactionHashLen + BlockHashLen + PublicKeyLen

// SerializedLen implements Encodable.
func (b *Block) SerializedLen() int {
	n := blockHeaderLen
	n += 1 // transaction count byte
	for _, tx := range b.Transactions {
		n += tx.SerializedLen()
	}
	n += 1 + len(b.Magic) // magic length byte + magic
	return n
}

// SerializeInto implements Encodable.
func (b *Block) SerializeInto(buf []byte, cur *int) error {
	if len(b.Transactions) > 0xff {
		return wrapErr(CategoryCodec, KindOutOfRange, "too many transactions in block", nil)
	}
	if len(b.Magic) > 0xff {
		return wrapErr(CategoryCodec, KindOutOfRange, "magic too long", nil)
	}
	if err := requireLen(buf, *cur, blockHeaderLen+1); err != nil {
		return err
	}
	putUint16(buf, cur, b.Version)
	putBytes(buf, cur, b.MerkleRoot[:])
	putBytes(buf, cur, b.BackHash[:])
	putBytes(buf, cur, b.Finder[:])
	putByte(buf, cur, byte(len(b.Transactions)))
	for _, tx := range b.Transactions {
		if err := tx.SerializeInto(buf, cur); err != nil {
			return err
		}
	}
	if err := requireLen(buf, *cur, 1+len(b.Magic)); err != nil {
		return err
	}
	putByte(buf, cur, byte(len(b.Magic)))
	putBytes(buf, cur, b.Magic)
	return nil
}

// BlockFromSerialized decodes a Block at *cur. resolve is forwarded to
// every contained transaction: within chain replay it closes over the
// UTXO index as it stands immediately before this block is applied (spec
// §4.5). Outputs created by this block are not in that index, so a
// transaction cannot spend an output created earlier in the same block.
func BlockFromSerialized(buf []byte, cur *int, resolve InputResolver) (*Block, error) {
	b := &Block{}
	version, err := getUint16(buf, cur)
	if err != nil {
		return nil, err
	}
	merkleRoot, err := getBytes(buf, cur, TransactionHashLen)
	if err != nil {
		return nil, err
	}
	backHash, err := getBytes(buf, cur, BlockHashLen)
	if err != nil {
		return nil, err
	}
	finder, err := getBytes(buf, cur, PublicKeyLen)
	if err != nil {
		return nil, err
	}
	txCount, err := getByte(buf, cur)
	if err != nil {
		return nil, err
	}
	b.Version = version
	copy(b.MerkleRoot[:], merkleRoot)
	copy(b.BackHash[:], backHash)
	copy(b.Finder[:], finder)

	b.Transactions = make([]*Transaction, 0, txCount)
	for i := 0; i < int(txCount); i++ {
		tx, err := TransactionFromSerialized(buf, cur, resolve)
		if err != nil {
			return nil, err
		}
		b.Transactions = append(b.Transactions, tx)
	}

	magicLen, err := getByte(buf, cur)
	if err != nil {
		return nil, err
	}
	magic, err := getBytes(buf, cur, int(magicLen))
	if err != nil {
		return nil, err
	}
	b.Magic = magic

	return b, nil
}

// headerPrefixBytes serializes everything but the magic trailer — the
// portion of the block a miner holds fixed while it searches magic
// values (spec §4.4).
func (b *Block) headerPrefixBytes() ([]byte, error) {
	n := blockHeaderLen + 1
	for _, tx := range b.Transactions {
		n += tx.SerializedLen()
	}
	buf := make([]byte, n)
	cur := 0
	putUint16(buf, &cur, b.Version)
	putBytes(buf, &cur, b.MerkleRoot[:])
	putBytes(buf, &cur, b.BackHash[:])
	putBytes(buf, &cur, b.Finder[:])
	if len(b.Transactions) > 0xff {
		return nil, wrapErr(CategoryCodec, KindOutOfRange, "too many transactions in block", nil)
	}
	putByte(buf, &cur, byte(len(b.Transactions)))
	for _, tx := range b.Transactions {
		if err := tx.SerializeInto(buf, &cur); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Hash returns the block's SHA3-256 identity over its full canonical
// encoding, magic included (spec §3).
func (b *Block) Hash() ([BlockHashLen]byte, error) {
	encoded, err := Encode(b)
	if err != nil {
		return [BlockHashLen]byte{}, err
	}
	return HashBlock(encoded), nil
}

// RecomputeMerkleRoot sets b.MerkleRoot from b.Transactions, the way a
// block builder finalizes the header before mining (spec §3).
func (b *Block) RecomputeMerkleRoot() error {
	hashes := make([][TransactionHashLen]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		h, err := tx.Hash()
		if err != nil {
			return err
		}
		hashes[i] = h
	}
	b.MerkleRoot = transactionsHash(hashes)
	return nil
}
