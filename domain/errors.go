package domain

import (
	"errors"
	"fmt"
)

// ErrCode classifies an expected failure so the transport can map it.
type ErrCode string

const (
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrInvalidInput    ErrCode = "INVALID_INPUT"
	ErrInvalidState    ErrCode = "INVALID_STATE"
	ErrConflict        ErrCode = "CONFLICT"
	ErrUnauthenticated ErrCode = "UNAUTHENTICATED"
)

type codedError struct {
	code ErrCode
	msg  string
}

func (e codedError) Error() string { return e.msg }
func (e codedError) Code() ErrCode { return e.code }

// Errorf builds a coded error with a formatted message.
func Errorf(code ErrCode, format string, args ...any) error {
	return codedError{code: code, msg: fmt.Sprintf(format, args...)}
}

// Code extracts the error code, or "" for uncoded errors.
func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}
