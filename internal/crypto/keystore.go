package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SaveKeypair persists priv's raw scalar encoding to dir/priv.hex and the
// compressed public key to dir/pub.hex, grounded on the teacher's
// crypto.SaveKeypair hex-file convention.
func SaveKeypair(dir string, priv *PrivateKey) error {
	pub := priv.PublicKey()
	if err := os.WriteFile(filepath.Join(dir, "pub.hex"), []byte(hex.EncodeToString(pub[:])), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "priv.hex"), []byte(hex.EncodeToString(priv.Bytes())), 0600)
}

// LoadKeypair reads a keypair persisted by SaveKeypair from dir.
func LoadKeypair(dir string) (*PrivateKey, PublicKey, error) {
	privHex, err := os.ReadFile(filepath.Join(dir, "priv.hex"))
	if err != nil {
		return nil, PublicKey{}, err
	}
	raw, err := hex.DecodeString(string(privHex))
	if err != nil {
		return nil, PublicKey{}, fmt.Errorf("crypto: malformed priv.hex: %w", err)
	}
	priv, pub, err := PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, PublicKey{}, err
	}
	return priv, pub, nil
}

// LoadOrGenerateKeypair loads an existing keypair from dir, or generates and
// persists a new one if none exists yet.
func LoadOrGenerateKeypair(dir string) (*PrivateKey, PublicKey, error) {
	priv, pub, err := LoadKeypair(dir)
	if err == nil {
		return priv, pub, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, PublicKey{}, err
	}
	priv, pub, err = GenerateKeyPair()
	if err != nil {
		return nil, PublicKey{}, err
	}
	if err := SaveKeypair(dir, priv); err != nil {
		return nil, PublicKey{}, err
	}
	return priv, pub, nil
}
