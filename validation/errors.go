package validation

import (
	"fmt"
	"strings"
)

type (
	Violation struct {
		Path    string
		Message string
	}

	// SchemaValidationError lists every structural problem found in the input.
	SchemaValidationError struct {
		Violations []Violation
	}

	SignatureError struct {
		// ID of the signed object, transaction ID or block ID
		ID  []byte
		Err error
	}
)

func (e *SchemaValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("schema validation failed:")
	for i, v := range e.Violations {
		if i > 0 {
			sb.WriteString(";")
		}
		fmt.Fprintf(&sb, " %s: %s", v.Path, v.Message)
	}
	return sb.String()
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid signature of %X: %v", e.ID, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }

type violations struct {
	list []Violation
}

func (v *violations) add(path, format string, args ...any) {
	v.list = append(v.list, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

// checkLen records violation when len(b) != size.
func (v *violations) checkLen(path string, b []byte, size int) {
	if len(b) != size {
		v.add(path, "expected %d bytes, got %d", size, len(b))
	}
}

func (v *violations) err() error {
	if len(v.list) == 0 {
		return nil
	}
	return &SchemaValidationError{Violations: v.list}
}
