package types

import "errors"

// The error kinds conceptually named in spec §7. Callers match them with
// errors.Is against the sentinels below; concrete errors returned by the
// engine wrap one of these with fmt.Errorf("...: %w", ...).
var (
	ErrInvalidState      = errors.New("invalid state transition")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrBackendIO         = errors.New("backend I/O error")
	ErrRemoteUnavailable = errors.New("remote manager unavailable")
	ErrExecutionFailed   = errors.New("application consumer execution failed")
)
