package payload

import "errors"

var (
	// errTooLong is returned when a variable-length field exceeds its
	// protocol bound.
	errTooLong = errors.New("field exceeds allowed length")
	// ErrTooManyHeaders is returned when a headers message exceeds
	// MaxHeadersAllowed entries.
	ErrTooManyHeaders = errors.New("too many headers")
	// ErrTooManyInvs is returned when an inventory message exceeds
	// MaxInvAllowed entries.
	ErrTooManyInvs = errors.New("too many inventory entries")
	// ErrTooManyAddrs is returned when an addr message exceeds
	// MaxAddrsAllowed entries.
	ErrTooManyAddrs = errors.New("too many address entries")
)
