package crypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signature is a DER-encoded ECDSA signature over a 32-byte digest.
type Signature []byte

// Sign produces a deterministic ECDSA (RFC 6979) signature over the SHA3-256
// digest of bytes. Envelope signatures and per-MID witness signatures both
// go through this path; the caller decides what bytes to hash (the
// canonical envelope encoding for envelope signatures, the bare MID for
// witness signatures, per spec §3's ControlFrame definition).
func Sign(priv *PrivateKey, msg []byte) Signature {
	digest := Hash(msg)
	sig := ecdsa.Sign(priv.key, digest[:])
	return Signature(sig.Serialize())
}

// Verify checks a signature produced by Sign against the given public key.
func Verify(pub PublicKey, msg []byte, sig Signature) bool {
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	key, err := parsePublicKey(pub)
	if err != nil {
		return false
	}
	digest := Hash(msg)
	return parsedSig.Verify(digest[:], key)
}

// CanonicalOrder returns a copy of pubs sorted by compressed byte encoding,
// a stable peer ordering (spec §9: "sorted by public-key bytes"). Nothing in
// this module uses it yet; witness signatures are not aggregated.
func CanonicalOrder(pubs []PublicKey) []PublicKey {
	out := make([]PublicKey, len(pubs))
	copy(out, pubs)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			if compareKeys(out[j-1], out[j]) <= 0 {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func compareKeys(a, b PublicKey) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
