package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CodeError is the error currency of the chat core. Callers match on Code
// via errors.Is against the predefined values in code.go; Detail carries the
// human-readable reason surfaced to the UI.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

// WithDetail returns a copy carrying an extra detail segment.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Is matches any CodeError with the same code, so detail-carrying copies
// still compare equal to the predefined values.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// New builds an ad-hoc internal error with printf formatting.
func New(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Code extracts the code of err, or 0 when err carries none.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// AsCodeError unwraps err to its CodeError, if any.
func AsCodeError(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
