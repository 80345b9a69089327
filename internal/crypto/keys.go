// Package crypto implements RACER's envelope and witness signing primitives:
// secp256k1 ECDSA for individual signatures and SHA3-256 for content
// hashing.
package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PublicKey is the 33-byte SEC1-compressed secp256k1 public key used as a
// peer's long-term identity.
type PublicKey [33]byte

func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKeyPair creates a fresh signing keypair.
func GenerateKeyPair() (*PrivateKey, PublicKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, PublicKey{}, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return keyPairFrom(key)
}

// PrivateKeyFromBytes reconstructs a signing key from its 32-byte scalar
// encoding, as persisted by keygen.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, PublicKey, error) {
	if len(b) != 32 {
		return nil, PublicKey{}, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return keyPairFrom(key)
}

func keyPairFrom(key *secp256k1.PrivateKey) (*PrivateKey, PublicKey, error) {
	var pub PublicKey
	copy(pub[:], key.PubKey().SerializeCompressed())
	return &PrivateKey{key: key}, pub, nil
}

// Bytes returns the raw 32-byte scalar encoding, for persistence by keygen.
func (p *PrivateKey) Bytes() []byte {
	b := p.key.Serialize()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// PublicKey returns the public half of the keypair.
func (p *PrivateKey) PublicKey() PublicKey {
	var pub PublicKey
	copy(pub[:], p.key.PubKey().SerializeCompressed())
	return pub
}

func parsePublicKey(pub PublicKey) (*secp256k1.PublicKey, error) {
	return secp256k1.ParsePubKey(pub[:])
}
