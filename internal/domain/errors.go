package domain

import "errors"

var (
	// ErrTransport marks a tier failure that advances the cascade.
	ErrTransport = errors.New("transport failed")
	// ErrTimeout marks an open or finalize bound being exceeded. It is handled like ErrTransport.
	ErrTimeout = errors.New("transport timed out")
)
