package errors

import (
	"errors"
	"fmt"
)

// upstreamFault is implemented by API client errors that carry the provider's
// fault code and HTTP status (the portal exception name, the IAM error code).
type upstreamFault interface {
	error
	FaultCode() string
	StatusCode() int
}

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	UpstreamFault  string `json:"upstream_fault,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var fault upstreamFault
	if errors.As(err, &fault) {
		d.UpstreamFault = fault.FaultCode()
		d.UpstreamStatus = fault.StatusCode()
	}

	return d
}
