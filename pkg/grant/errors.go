package grant

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/obot-platform/zoo-mcp-auth/pkg/tokens"
)

// OAuth error codes as returned on the wire
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidCredentials      = "invalid_credentials"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeServerError             = "server_error"
)

// ErrInvalidToken is the only error VerifyAccessToken returns. It does not say why a token
// was rejected.
var ErrInvalidToken = tokens.ErrInvalidToken

// Error is a failed grant operation, expressed in OAuth error vocabulary.
type Error struct {
	Code        string
	Description string
	Status      int

	cause error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code string, status int, format string, args ...any) *Error {
	return &Error{
		Code:        code,
		Description: fmt.Sprintf(format, args...),
		Status:      status,
	}
}

func InvalidRequest(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidRequest, http.StatusBadRequest, format, args...)
}

func InvalidClient(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidClient, http.StatusBadRequest, format, args...)
}

func InvalidGrant(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidGrant, http.StatusBadRequest, format, args...)
}

func UnsupportedGrantType(format string, args ...any) *Error {
	return newError(ErrorCodeUnsupportedGrantType, http.StatusBadRequest, format, args...)
}

func UnsupportedResponseType(format string, args ...any) *Error {
	return newError(ErrorCodeUnsupportedResponseType, http.StatusBadRequest, format, args...)
}

func InvalidCredentials(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidCredentials, http.StatusUnauthorized, format, args...)
}

// ServerError wraps an internal fault such as an entropy or storage failure. The cause is kept
// for logging and never shown to the client.
func ServerError(cause error) *Error {
	return &Error{
		Code:        ErrorCodeServerError,
		Description: "internal server error",
		Status:      http.StatusInternalServerError,
		cause:       cause,
	}
}

// AsError converts any error into an *Error, treating unknown errors as server errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ServerError(err)
}

// Code returns the OAuth error code of err, or "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInvalidToken) {
		return ErrorCodeInvalidToken
	}
	return AsError(err).Code
}
