package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoUnknownType = "E_PROTO_UNKNOWN_TYPE"

	// Search control.
	ErrInvalidJob = "E_INVALID_JOB"
	ErrBusy       = "E_BUSY"
	ErrNotRunning = "E_NOT_RUNNING"

	// Result store.
	ErrNotFound    = "E_NOT_FOUND"
	ErrUnavailable = "E_UNAVAILABLE"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoUnknownType: {},
	ErrInvalidJob:       {},
	ErrBusy:             {},
	ErrNotRunning:       {},
	ErrNotFound:         {},
	ErrUnavailable:      {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
