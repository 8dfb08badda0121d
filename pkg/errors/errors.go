package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeConfig       Code = "CONFIG_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeUpstream     Code = "UPSTREAM_ERROR"
	CodeDelivery     Code = "DELIVERY_ERROR"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Metadata drives process behavior per code: what the run exits with and
// whether the failure aborts the run or is logged and carried.
type Metadata struct {
	ExitCode      int
	Fatal         bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeConfig: {
		ExitCode:      2,
		Fatal:         true,
		PublicMessage: "invalid configuration",
	},
	CodeUnauthorized: {
		ExitCode:      1,
		Fatal:         true,
		PublicMessage: "authentication rejected",
	},
	CodeNotFound: {
		ExitCode:      1,
		Fatal:         true,
		PublicMessage: "resource not found",
	},
	CodeRateLimit: {
		ExitCode:      1,
		Fatal:         true,
		PublicMessage: "rate limit exceeded",
	},
	CodeUpstream: {
		ExitCode:      1,
		Fatal:         true,
		PublicMessage: "upstream api failure",
	},
	CodeDelivery: {
		ExitCode:      1,
		Fatal:         false,
		PublicMessage: "delivery failed",
	},
	CodeInternal: {
		ExitCode:      1,
		Fatal:         true,
		PublicMessage: "internal error",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// ExitCodeFor resolves the process exit code for an error chain; nil maps to 0.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.Code()).ExitCode
	}
	return MetadataFor(CodeInternal).ExitCode
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
