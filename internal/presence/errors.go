package presence

import "errors"

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrBackendUnavailable = errors.New("presence backend unavailable")
)
