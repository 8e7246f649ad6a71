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

// transactionsHash folds a block's transaction hashes into the
// merkle_root field. The chain's commitment to its transaction set is a
// flat SHA3-256 over the concatenated hashes, not a branching tree (spec
// §3: "merkle_root = SHA3-256(concat(tx_hashes))") — this replaces the
// teacher's MerkleNode/MerkleTree binary-tree structure, which has no
// role once the commitment function itself is flat. See DESIGN.md.
func transactionsHash(txHashes [][TransactionHashLen]byte) [TransactionHashLen]byte {
	buf := make([]byte, 0, len(txHashes)*TransactionHashLen)
	for _, h := range txHashes {
		buf = append(buf, h[:]...)
	}
	return HashTransaction(buf)
}
