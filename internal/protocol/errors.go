package protocol

const (
	// Frame/handshake validation.
	ErrProtoBadFrame = "E_PROTO_BAD_FRAME"
	ErrProtoVersion  = "E_PROTO_VERSION"

	// Per-message validation.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInputFlood    = "E_INPUT_FLOOD"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrStale         = "E_STALE"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadFrame: {},
	ErrProtoVersion:  {},
	ErrBadRequest:    {},
	ErrInputFlood:    {},
	ErrInvalidTarget: {},
	ErrStale:         {},
	ErrRateLimit:     {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
