package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/racer-mesh/racer/internal/crypto"
)

func TestEnvelopeSealVerifyRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	env := &Envelope{
		SenderPubKey:  pub,
		SequenceNonce: 42,
		Payload:       []byte(`{"temperature":21.5}`),
	}
	env.Seal(priv)
	require.NoError(t, env.Verify())

	encoded := EncodeEnvelope(env)
	decoded, n, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, env.MID, decoded.MID)
	require.NoError(t, decoded.Verify())
}

func TestEnvelopeVerifyRejectsTamperedPayload(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	env := &Envelope{SenderPubKey: pub, SequenceNonce: 1, Payload: []byte("a")}
	env.Seal(priv)
	env.Payload = []byte("b")
	require.Error(t, env.Verify())
}

func TestFrameRoundTrip(t *testing.T) {
	body := []byte("hello racer")
	encoded, err := EncodeFrame(body)
	require.NoError(t, err)

	decoded, err := ReadFrame(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

func TestReadFrameRejectsUnsupportedVersion(t *testing.T) {
	encoded, err := EncodeFrame([]byte("x"))
	require.NoError(t, err)
	encoded[0] = 0xFF

	_, err = ReadFrame(bytes.NewReader(encoded))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestControlFrameEchoRoundTrip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mid := crypto.ComputeMID([]byte("content"))
	sig := crypto.Sign(priv, mid[:])

	cf := &ControlFrame{Tag: TagEcho, MID: mid, WitnessSig: sig}
	body, err := cf.Encode()
	require.NoError(t, err)

	decoded, err := DecodeControlFrame(body)
	require.NoError(t, err)
	require.Equal(t, TagEcho, decoded.Tag)
	require.Equal(t, mid, decoded.MID)
	require.Equal(t, sig, decoded.WitnessSig)
}

func TestControlFramePayloadRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	env := &Envelope{SenderPubKey: pub, SequenceNonce: 1, Payload: []byte("x")}
	env.Seal(priv)

	cf := &ControlFrame{Tag: TagPayload, Envelope: env}
	body, err := cf.Encode()
	require.NoError(t, err)

	decoded, err := DecodeControlFrame(body)
	require.NoError(t, err)
	require.Equal(t, TagPayload, decoded.Tag)
	require.Equal(t, env.MID, decoded.Envelope.MID)
}

func TestDecodeControlFrameRejectsUnknownTag(t *testing.T) {
	_, err := DecodeControlFrame([]byte{0x7F})
	require.ErrorIs(t, err, ErrMalformedFrame)
}
