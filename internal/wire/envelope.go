package wire

import (
	"encoding/binary"

	"github.com/racer-mesh/racer/internal/crypto"
)

// Envelope is the self-verifying signed payload record of spec §3.
type Envelope struct {
	MID           crypto.MID
	SenderPubKey  crypto.PublicKey
	SequenceNonce uint64
	Payload       []byte
	Signature     crypto.Signature
}

// CanonicalFields encodes (sender_public_key, sequence_nonce, payload_bytes)
// in stable field order; its hash is the MID (spec §3) and it is exactly
// what the envelope signature covers.
func (e *Envelope) CanonicalFields() []byte {
	out := make([]byte, 0, 33+8+4+len(e.Payload))
	out = append(out, e.SenderPubKey[:]...)
	out = appendUint64(out, e.SequenceNonce)
	out = appendBytes(out, e.Payload)
	return out
}

// Seal computes the MID and signs the envelope with priv, which must own
// SenderPubKey.
func (e *Envelope) Seal(priv *crypto.PrivateKey) {
	e.MID = crypto.ComputeMID(e.CanonicalFields())
	e.Signature = crypto.Sign(priv, e.CanonicalFields())
}

// Verify checks the envelope's signature and that its stated MID matches
// its recomputed content hash (spec §8 invariant 4).
func (e *Envelope) Verify() error {
	if !crypto.Verify(e.SenderPubKey, e.CanonicalFields(), e.Signature) {
		return ErrBadSignature
	}
	if crypto.ComputeMID(e.CanonicalFields()) != e.MID {
		return ErrMidMismatch
	}
	return nil
}

// EncodeEnvelope produces the canonical wire body for an envelope, used
// inside a PAYLOAD control frame.
func EncodeEnvelope(e *Envelope) []byte {
	out := make([]byte, 0, 32+33+8+4+len(e.Payload)+4+len(e.Signature))
	out = append(out, e.MID[:]...)
	out = append(out, e.SenderPubKey[:]...)
	out = appendUint64(out, e.SequenceNonce)
	out = appendBytes(out, e.Payload)
	out = appendBytes(out, e.Signature)
	return out
}

// DecodeEnvelope parses an envelope body written by EncodeEnvelope.
func DecodeEnvelope(b []byte) (*Envelope, int, error) {
	e := &Envelope{}
	off := 0
	if len(b) < off+32 {
		return nil, 0, ErrMalformedFrame
	}
	copy(e.MID[:], b[off:off+32])
	off += 32
	if len(b) < off+33 {
		return nil, 0, ErrMalformedFrame
	}
	copy(e.SenderPubKey[:], b[off:off+33])
	off += 33
	nonce, n, err := readUint64(b[off:])
	if err != nil {
		return nil, 0, err
	}
	e.SequenceNonce = nonce
	off += n
	payload, n, err := readBytes(b[off:])
	if err != nil {
		return nil, 0, err
	}
	e.Payload = payload
	off += n
	sig, n, err := readBytes(b[off:])
	if err != nil {
		return nil, 0, err
	}
	e.Signature = crypto.Signature(sig)
	off += n
	return e, off, nil
}

func appendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func readUint64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, ErrMalformedFrame
	}
	return binary.BigEndian.Uint64(b[:8]), 8, nil
}

func appendBytes(dst []byte, v []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, v...)
}

func readBytes(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrMalformedFrame
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return nil, 0, ErrMalformedFrame
	}
	out := make([]byte, n)
	copy(out, b[4:4+n])
	return out, 4 + int(n), nil
}
