package directus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is returned for transport failures and non-2xx responses.
type Error struct {
	Op         string
	Collection string
	// StatusCode is 0 when the request never got a response.
	StatusCode int
	// Code is the Directus extensions.code of the first error, if any.
	Code    string
	Message string
	Body    string
	Err     error
}

func (e *Error) Error() string {
	target := e.Collection
	if target == "" {
		target = "directus"
	}
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, target, e.StatusCode, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, target, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, target, e.StatusCode, strings.TrimSpace(e.Body))
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

type errorBody struct {
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

func newStatusError(op, collection string, status int, raw []byte) *Error {
	e := &Error{Op: op, Collection: collection, StatusCode: status, Body: string(raw)}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && len(body.Errors) > 0 {
		e.Message = body.Errors[0].Message
		e.Code = body.Errors[0].Extensions.Code
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// IsAuthError reports whether err means the credential is missing, invalid
// or expired, so callers can ask the user to log in again.
func IsAuthError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case "INVALID_CREDENTIALS", "TOKEN_EXPIRED", "INVALID_TOKEN":
		return true
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound reports a 404 from Directus.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}
