package core

// hash.go – Keccak-256 over the canonical encoding, used for delta
// hashes, account roots and frame hashes. go-ethereum's crypto.Keccak256
// is already an indirect dependency via the secp256k1 signing in
// crypto.go.

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hash256 is a 32-byte Keccak-256 digest.
type Hash256 [32]byte

func (h Hash256) Bytes() []byte { return h[:] }

func (h Hash256) String() string { return hex.EncodeToString(h[:]) }

// keccak hashes the canonical encoding of b.
func keccak(b []byte) Hash256 {
	return Hash256(crypto.Keccak256Hash(b))
}

// deltaHash hashes the canonical encoding of a single Delta.
func deltaHash(d Delta) Hash256 {
	return keccak(encodeDelta(d))
}

// accountRoot hashes the concatenation of per-token delta hashes in
// ascending tokenId order.
func accountRoot(deltas map[TokenId]Delta) Hash256 {
	ids := make([]TokenId, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sortTokenIds(ids)
	enc := NewEncoder()
	for _, id := range ids {
		h := deltaHash(deltas[id])
		enc.Raw(h[:])
	}
	return keccak(enc.Bytes())
}

// frameHash hashes the canonical encoding of a frame without its
// signatures.
func frameHash(f Frame) Hash256 {
	return keccak(encodeFrameUnsigned(f))
}

func sortTokenIds(ids []TokenId) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
