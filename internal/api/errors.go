package api

import (
	"errors"
	"fmt"
)

// ErrBadParam marks a request parameter that failed to parse.
var ErrBadParam = errors.New("bad request parameter")

// paramError names the offending parameter so it can be echoed back in the
// error body.
type paramError struct {
	Param  string
	Reason string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("%s %s", e.Param, e.Reason)
}

func (e *paramError) Unwrap() error { return ErrBadParam }

func badParam(param, format string, args ...any) error {
	return &paramError{Param: param, Reason: fmt.Sprintf(format, args...)}
}
