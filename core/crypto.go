package core

// crypto.go – signing for frames and entity precommits. The curve is an
// implementation choice left to both sides to agree on; this module picks
// secp256k1, generalizing state_channel.go's VerifyECDSASignature (there
// over P-256) to the curve go-ethereum already pulls in.

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
)

// KeyPair is a signer's secp256k1 keypair.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  []byte // 65-byte uncompressed point
}

// GenerateKeyPair creates a fresh secp256k1 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, wrap(err, "generate keypair")
	}
	return &KeyPair{Private: priv, Public: crypto.FromECDSAPub(&priv.PublicKey)}, nil
}

// Sign produces a 65-byte recoverable ECDSA signature over a 32-byte hash.
func Sign(kp *KeyPair, hash Hash256) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], kp.Private)
	if err != nil {
		return nil, wrap(err, "sign")
	}
	return sig, nil
}

// VerifySignature checks a signature produced by Sign against a public
// key and hash. The 65th (recovery) byte is dropped before verification,
// matching crypto.VerifySignature's expected input.
func VerifySignature(pubKey []byte, hash Hash256, sig []byte) bool {
	if len(sig) != 65 {
		return false
	}
	return crypto.VerifySignature(pubKey, hash[:], sig[:64])
}
