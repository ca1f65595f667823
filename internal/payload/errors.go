package payload

import (
	"errors"
	"fmt"
)

// DecodeErrorCode categorizes payload decode failures.
type DecodeErrorCode string

// CodeMalformed indicates bad payload syntax: absent prefix, invalid base64
// or JSON, or missing/invalid fields. All decode failures in this package
// carry this code; the taxonomy leaves room for size-cap or version errors.
const CodeMalformed DecodeErrorCode = "MALFORMED"

// DecodeError is returned for any payload that cannot be decoded.
// It never indicates a business-rule violation; those live in the engine.
type DecodeError struct {
	Code    DecodeErrorCode
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is (or wraps) a malformed-payload error.
func IsMalformed(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Code == CodeMalformed
	}
	return false
}

func malformed(message string, err error) *DecodeError {
	return &DecodeError{Code: CodeMalformed, Message: message, Err: err}
}
