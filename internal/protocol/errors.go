package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion     = "E_PROTO_VERSION"
	ErrProtoUnsupported = "E_PROTO_UNSUPPORTED"

	// Session/state.
	ErrNotReady = "E_NOT_READY"
	ErrInternal = "E_INTERNAL"

	// Requests.
	ErrBadRequest = "E_BAD_REQUEST"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoVersion:     {},
	ErrProtoUnsupported: {},
	ErrNotReady:         {},
	ErrInternal:         {},
	ErrBadRequest:       {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
