package element

import "fmt"

// InvalidEncodingError reports a binary field that is not valid base64, or a
// blob reference the workspace does not own. The element is still decoded,
// with the binary field left empty.
type InvalidEncodingError struct {
	Field string
	Err   error
}

func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("invalid %s encoding: %v", e.Field, e.Err)
}

func (e *InvalidEncodingError) Unwrap() error {
	return e.Err
}

// UnknownElementTypeError reports a record whose type has no codec.
type UnknownElementTypeError struct {
	Type string
}

func (e *UnknownElementTypeError) Error() string {
	return fmt.Sprintf("unknown element type %q", e.Type)
}
