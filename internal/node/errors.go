package node

import "errors"

// Sentinel errors surfaced to callers of the Node facade (spec §6's exit
// codes map onto these).
var (
	ErrRateLimited          = errors.New("node: publish rejected by rate controller")
	ErrBadConfig            = errors.New("node: invalid configuration")
	ErrTransportUnavailable = errors.New("node: transport unavailable")
	ErrShuttingDown         = errors.New("node: shutting down")
)
