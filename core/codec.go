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

import "encoding/binary"

// EndMarker terminates a variable-length block stream where the final
// element's length cannot be inferred any other way (spec §4.1, §6). It
// is never a valid prefix of any encodable entity because no entity's
// first four bytes can take this value (UserId/count bytes top bit is
// always the continuation flag, not a free 0x41).
var EndMarker = [4]byte{0x41, 0x41, 0x41, 0x41}

// Encodable is the single capability every on-chain entity implements:
// compile-time polymorphism over the known set of entity variants (design
// notes §9). serialize_into/from_serialized thread a cursor explicitly
// rather than mixing a streaming reader with slice-returning serializers,
// the way the Rust source does (design notes §9: "mixing the two styles
// is a source of bugs and should be unified").
type Encodable interface {
	SerializedLen() int
	SerializeInto(buf []byte, cur *int) error
}

// fromSerializedFunc is the shape of the package-level FromSerialized functions (Go has
// no static from_serialized method on an interface, so each concrete type
// exposes its own constructor with this signature).
type fromSerializedFunc func(buf []byte, cur *int) (any, error)

func requireLen(buf []byte, cur int, n int) error {
	if cur < 0 || n < 0 || cur+n > len(buf) {
		return ErrTruncated
	}
	return nil
}

func putUint16(buf []byte, cur *int, v uint16) {
	binary.BigEndian.PutUint16(buf[*cur:*cur+2], v)
	*cur += 2
}

func getUint16(buf []byte, cur *int) (uint16, error) {
	if err := requireLen(buf, *cur, 2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(buf[*cur : *cur+2])
	*cur += 2
	return v, nil
}

func putUint32(buf []byte, cur *int, v uint32) {
	binary.BigEndian.PutUint32(buf[*cur:*cur+4], v)
	*cur += 4
}

func getUint32(buf []byte, cur *int) (uint32, error) {
	if err := requireLen(buf, *cur, 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(buf[*cur : *cur+4])
	*cur += 4
	return v, nil
}

func putBytes(buf []byte, cur *int, b []byte) {
	copy(buf[*cur:*cur+len(b)], b)
	*cur += len(b)
}

func getBytes(buf []byte, cur *int, n int) ([]byte, error) {
	if err := requireLen(buf, *cur, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[*cur:*cur+n])
	*cur += n
	return out, nil
}

func putByte(buf []byte, cur *int, b byte) {
	buf[*cur] = b
	*cur++
}

func getByte(buf []byte, cur *int) (byte, error) {
	if err := requireLen(buf, *cur, 1); err != nil {
		return 0, err
	}
	b := buf[*cur]
	*cur++
	return b, nil
}

// Encode is a convenience wrapper allocating a buffer sized by
// SerializedLen and calling SerializeInto from cursor 0 — the round-trip
// law's encode half (spec §8).
func Encode(e Encodable) ([]byte, error) {
	buf := make([]byte, e.SerializedLen())
	cur := 0
	if err := e.SerializeInto(buf, &cur); err != nil {
		return nil, err
	}
	if cur != len(buf) {
		return nil, wrapErr(CategoryCodec, KindMalformed, "serialize_into wrote an unexpected length", nil)
	}
	return buf, nil
}
