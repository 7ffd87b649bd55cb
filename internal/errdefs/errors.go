package errdefs

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrValidation         = errors.New("validation error")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrContent            = errors.New("undecodable submission content")
	ErrUnknownIntent      = errors.New("unknown callback intent")
)
