package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

var ErrConnection = fmt.Errorf("connection error")
var ErrSchemaLookup = fmt.Errorf("schema lookup error")
var ErrFilesystem = fmt.Errorf("filesystem error")
var ErrQuery = fmt.Errorf("query error")
var ErrBadResponse = fmt.Errorf("bad response")
var ErrClosed = fmt.Errorf("transaction closed")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewConnectionError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrConnection,
	}
}

func NewSchemaLookupError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrSchemaLookup,
	}
}

func NewQueryError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrQuery,
	}
}

// NewFilesystemError wraps an error returned by a filesystem operation on path
func NewFilesystemError(op, path string, err error) error {
	return fmt.Errorf("failed to %s %s: %s (%w)", op, path, err.Error(), ErrFilesystem)
}

// NewErrorFromResponse maps a failed server response to one of the error kinds above
func NewErrorFromResponse(code int, body []byte) error {
	report := &struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{}

	if err := json.Unmarshal(body, report); err != nil || report.Message == "" {
		report.Message = strings.TrimSpace(string(body))
	}

	msg := fmt.Sprintf("[status: %d] %s", code, report.Message)
	if report.Code != "" {
		msg = fmt.Sprintf("[status: %d, code: %s] %s", code, report.Code, report.Message)
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewConnectionError(msg)
	case http.StatusNotFound:
		return NewSchemaLookupError(msg)
	}

	return NewQueryError(msg)
}
