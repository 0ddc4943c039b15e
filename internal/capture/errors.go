package capture

import "fmt"

// NotFoundError is returned when a capture directory does not exist
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("capture directory %s not found", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// DecodeError is returned when a capture file cannot be decoded in full
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
