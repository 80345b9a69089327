package crypto

import "golang.org/x/crypto/sha3"

// MID is the 32-byte content-hash message identifier (spec §3).
type MID [32]byte

func (m MID) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range m {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// Hash returns the SHA3-256 digest of data.
func Hash(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// ComputeMID hashes the canonical encoding of an envelope's content fields
// (everything but the signature) to derive its MID.
func ComputeMID(canonical []byte) MID {
	return MID(Hash(canonical))
}

// nodeIDDomainTag domain-separates node identity derivation from MID/witness
// hashing, mirroring the teacher's "web4:nodeid:v1" pattern under RACER's own
// tag.
const nodeIDDomainTag = "racer:nodeid:v1"

// NodeID derives a node's stable identifier from its public key.
func NodeID(pub PublicKey) [32]byte {
	buf := make([]byte, 0, len(nodeIDDomainTag)+len(pub))
	buf = append(buf, nodeIDDomainTag...)
	buf = append(buf, pub[:]...)
	return Hash(buf)
}
