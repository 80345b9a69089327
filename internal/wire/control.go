package wire

import (
	"github.com/racer-mesh/racer/internal/crypto"
)

// Tag identifies a ControlFrame's variant.
type Tag byte

const (
	TagPayload Tag = iota
	TagEcho
	TagReady
)

// ControlFrame is the tagged union of spec §3: ECHO(MID, witness_sig),
// READY(MID, witness_sig), PAYLOAD(Envelope). The witness signature is the
// forwarder's signature over the MID, not the payload.
type ControlFrame struct {
	Tag        Tag
	MID        crypto.MID
	WitnessSig crypto.Signature
	Envelope   *Envelope
}

// Encode produces the wire body for a control frame (the part that follows
// the version+length frame header written by EncodeFrame).
func (c *ControlFrame) Encode() ([]byte, error) {
	switch c.Tag {
	case TagPayload:
		body := append([]byte{byte(TagPayload)}, EncodeEnvelope(c.Envelope)...)
		return body, nil
	case TagEcho, TagReady:
		body := make([]byte, 0, 1+32+4+len(c.WitnessSig))
		body = append(body, byte(c.Tag))
		body = append(body, c.MID[:]...)
		body = appendBytes(body, c.WitnessSig)
		return body, nil
	default:
		return nil, ErrMalformedFrame
	}
}

// DecodeControlFrame parses a control frame body written by Encode.
func DecodeControlFrame(body []byte) (*ControlFrame, error) {
	if len(body) < 1 {
		return nil, ErrMalformedFrame
	}
	tag := Tag(body[0])
	rest := body[1:]
	switch tag {
	case TagPayload:
		env, n, err := DecodeEnvelope(rest)
		if err != nil {
			return nil, err
		}
		if n != len(rest) {
			return nil, ErrMalformedFrame
		}
		return &ControlFrame{Tag: TagPayload, Envelope: env}, nil
	case TagEcho, TagReady:
		if len(rest) < 32 {
			return nil, ErrMalformedFrame
		}
		var mid crypto.MID
		copy(mid[:], rest[:32])
		sig, n, err := readBytes(rest[32:])
		if err != nil {
			return nil, err
		}
		if 32+n != len(rest) {
			return nil, ErrMalformedFrame
		}
		return &ControlFrame{Tag: tag, MID: mid, WitnessSig: crypto.Signature(sig)}, nil
	default:
		return nil, ErrMalformedFrame
	}
}
