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
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	"celestium/utils"
	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // kept for ShortID, see DESIGN.md
	"golang.org/x/crypto/sha3"
)

const (
	// PublicKeyLen is the length of a compressed secp256k1 public key.
	PublicKeyLen = 33
	// SecretKeyLen is the length of a raw secp256k1 secret scalar.
	SecretKeyLen = 32
	// SignatureLen is the length of a compact (r||s) ECDSA signature.
	SignatureLen = 64
	// BlockHashLen is the length of a SHA3-256 block hash.
	BlockHashLen = 32
	// TransactionHashLen is the length of a SHA3-256 transaction hash.
	TransactionHashLen = 32
	// PixelHashLen is the length of a SHA3-224 pixel-canvas hash.
	PixelHashLen = 28
)

// PublicKey is the compressed secp256k1 encoding of a point on the curve.
type PublicKey [PublicKeyLen]byte

// SecretKey is a raw secp256k1 scalar.
type SecretKey [SecretKeyLen]byte

// Signature is a compact, non-recoverable (r||s) ECDSA signature.
type Signature [SignatureLen]byte

// KeyPair binds a secret scalar to its public point.
type KeyPair struct {
	SK SecretKey
	PK PublicKey
}

// GenerateKeyPair draws a fresh secp256k1 keypair from crypto/rand. Key
// generation detail beyond the curve choice is out of spec's scope (§1);
// this is the one concrete RNG surface the rest of the package needs.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, wrapErr(CategoryCrypto, KindBadKey, "generate keypair", err)
	}
	var kp KeyPair
	copy(kp.SK[:], priv.Serialize())
	copy(kp.PK[:], priv.PubKey().SerializeCompressed())
	return &kp, nil
}

// PublicKeyFromSecret derives the compressed public key for sk, the way
// a wallet identifies which of its keys a signature slot belongs to.
func PublicKeyFromSecret(sk SecretKey) (PublicKey, error) {
	priv, err := sk.ecdsaPrivate()
	if err != nil {
		return PublicKey{}, err
	}
	var pk PublicKey
	copy(pk[:], priv.PubKey().SerializeCompressed())
	return pk, nil
}

func (sk SecretKey) ecdsaPrivate() (*btcec.PrivateKey, error) {
	priv, pub := btcec.PrivKeyFromBytes(sk[:])
	if priv == nil || pub == nil {
		return nil, wrapErr(CategoryCrypto, KindBadKey, "invalid secret key", nil)
	}
	return priv, nil
}

func (pk PublicKey) ecdsaPublic() (*btcec.PublicKey, error) {
	pub, err := btcec.ParsePubKey(pk[:])
	if err != nil {
		return nil, wrapErr(CategoryCrypto, KindBadKey, "invalid public key", err)
	}
	return pub, nil
}

// halfOrder is secp256k1's group order divided by two, used to reject
// non-canonical high-S signatures on verification (spec §4.2).
var halfOrder = func() *big.Int {
	n := new(big.Int).Set(btcec.S256().N)
	return n.Rsh(n, 1)
}()

// Sign produces a compact 64-byte (r||s) ECDSA signature over hash, the
// same shape as the teacher's Transaction.Sign (append(r.Bytes(),
// s.Bytes()...)) but fixed-width and curve-swapped to secp256k1, and
// normalized to low-S so Verify's canonical-form check always accepts our
// own signatures.
func Sign(sk SecretKey, hash []byte) (Signature, error) {
	var sig Signature
	priv, err := sk.ecdsaPrivate()
	if err != nil {
		return sig, err
	}
	ecKey := priv.ToECDSA()
	r, s, err := ecdsa.Sign(rand.Reader, ecKey, hash)
	if err != nil {
		return sig, wrapErr(CategoryCrypto, KindBadSignature, "sign", err)
	}
	if s.Cmp(halfOrder) > 0 {
		s = new(big.Int).Sub(btcec.S256().N, s)
	}
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Verify checks sig against pk over hash, rejecting non-canonical (high-S)
// signatures per spec §4.2.
func Verify(pk PublicKey, hash []byte, sig Signature) bool {
	pub, err := pk.ecdsaPublic()
	if err != nil {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if s.Cmp(halfOrder) > 0 {
		return false
	}
	return ecdsa.Verify(pub.ToECDSA(), hash, r, s)
}

// HashTransaction returns the SHA3-256 of data, used for block and
// transaction hashes throughout core (spec §4.2).
func HashTransaction(data []byte) [TransactionHashLen]byte {
	return sha3.Sum256(data)
}

// HashBlock returns the SHA3-256 of data.
func HashBlock(data []byte) [BlockHashLen]byte {
	return sha3.Sum256(data)
}

// HashPixel returns the SHA3-224 of data, used for the pixel-canvas base
// message anti-replay back-pointer (spec §4.5).
func HashPixel(data []byte) [PixelHashLen]byte {
	return sha3.Sum224(data)
}

// SigningDigest is SHA-256 of the canonical transaction bytes (excluding
// signatures), the message ECDSA actually signs over (spec §4.2).
func SigningDigest(canonicalBytes []byte) []byte {
	h := sha256.Sum256(canonicalBytes)
	return h[:]
}

// ShortID returns a short human-readable fingerprint of a public key for
// CLI output and log fields, the way the teacher's HashingPubKey feeds
// Wallet.GenerateAddr — but without a chain-carried address (the spec
// transacts against raw compressed public keys, not base58 addresses).
func ShortID(pk PublicKey) string {
	sum := sha256.Sum256(pk[:])
	hasher := ripemd160.New()
	_, _ = hasher.Write(sum[:])
	encoded := utils.Base58Encoding(hasher.Sum(nil))
	if len(encoded) > 8 {
		encoded = encoded[:8]
	}
	return string(encoded)
}
