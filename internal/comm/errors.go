package comm

import "errors"

const (
	// TimeoutCode is the result code reported when an async command outlives
	// its timeout without being notified.
	TimeoutCode uint32 = 0xFFFFFFFF

	// PanicCode is the result code reported when a handler panics.
	PanicCode uint32 = 0xFFFFFFFE
)

var (
	ErrRegistryFull      = errors.New("registry full")
	ErrInvalidHandler    = errors.New("handler is nil")
	ErrAlreadyRegistered = errors.New("command already registered")
	ErrNotFound          = errors.New("slot not found")
	ErrNotRegistered     = errors.New("command not registered")
	ErrBusy              = errors.New("slot busy")
	ErrUnavailable       = errors.New("dispatcher unavailable")
	ErrInvalidSlot       = errors.New("invalid slot index")
	ErrAlreadyStarted    = errors.New("manager already started")
)
