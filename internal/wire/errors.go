package wire

import "errors"

// Internal, non-surfaced decode failures (spec §7): logged and counted by
// the dispatcher, never returned across the Node facade boundary.
var (
	ErrMalformedFrame     = errors.New("wire: malformed frame")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrMidMismatch        = errors.New("wire: recomputed MID does not match envelope")
	ErrBadSignature       = errors.New("wire: bad signature")
)

// CurrentVersion is the only wire version this build emits; Decode rejects
// any other version byte with ErrUnsupportedVersion.
const CurrentVersion = 1
