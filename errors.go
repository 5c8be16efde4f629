package pweld

import "errors"

// Sentinel errors returned (wrapped) by mesh I/O and validation.
// The clustering core itself is total and never fails at runtime.
var (
	// ErrParse indicates a missing, malformed, or incomplete input file.
	ErrParse = errors.New("pweld: malformed input")

	// ErrOutOfRange indicates a value outside its valid domain, such as a
	// triangle index past the vertex count or a negative eps.
	ErrOutOfRange = errors.New("pweld: value out of range")

	// ErrUnsupported indicates a well-formed input using a feature this
	// package does not handle, such as a face that cannot be triangulated.
	ErrUnsupported = errors.New("pweld: unsupported feature")
)
