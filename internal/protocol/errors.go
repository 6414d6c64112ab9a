package protocol

import "fmt"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Group membership.
	ErrRankConflict      = "E_RANK_CONFLICT"
	ErrRankOutOfRange    = "E_RANK_OUT_OF_RANGE"
	ErrWorldSizeMismatch = "E_WORLD_SIZE_MISMATCH"
	ErrRunMismatch       = "E_RUN_MISMATCH"

	// Reduction.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrCanceled   = "E_CANCELED"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrProtoVersion:      {},
	ErrRankConflict:      {},
	ErrRankOutOfRange:    {},
	ErrWorldSizeMismatch: {},
	ErrRunMismatch:       {},
	ErrBadRequest:        {},
	ErrCanceled:          {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// RemoteError is an ERROR message surfaced as a Go error.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
