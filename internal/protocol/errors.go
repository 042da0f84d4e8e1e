package protocol

const (
	// Request validation.
	ErrBadRequest = "E_BAD_REQUEST"

	// Search layer.
	ErrNoPath      = "E_NO_PATH"
	ErrUnreachable = "E_UNREACHABLE"
	ErrCancelled   = "E_CANCELLED"

	// Movement layer.
	ErrTimeout      = "E_TIMEOUT"
	ErrPrecondition = "E_PRECONDITION"
	ErrStuck        = "E_STUCK"

	// Behavior layer.
	ErrCouldNotPath = "E_COULD_NOT_PATH"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:   {},
	ErrNoPath:       {},
	ErrUnreachable:  {},
	ErrCancelled:    {},
	ErrTimeout:      {},
	ErrPrecondition: {},
	ErrStuck:        {},
	ErrCouldNotPath: {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
