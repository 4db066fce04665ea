package ooth

import (
	"errors"
	"fmt"
)

// Error codes double as translation keys for user-visible messages.
const (
	CodeValidation             = "validation_error"
	CodeNotLoggedIn            = "not_logged_in"
	CodeAlreadyLoggedIn        = "already_logged_in"
	CodeAlreadyRegistered      = "already_registered"
	CodeNotRegisteredWith      = "not_registered_with_strategy"
	CodeInvalidCredentials     = "invalid_credentials"
	CodeAmbiguousIdentity      = "ambiguous_identity"
	CodeForeignStrategyBinding = "foreign_strategy_binding"
	CodeDuplicateRegistration  = "duplicate_registration"
	CodeBackend                = "backend_error"
	CodeTokenInvalid           = "token_invalid"
	CodeTokenExpired           = "token_expired"
	CodeMethodNotFound         = "method_not_found"
	CodeInternal               = "internal_error"
)

// Error is a user-reportable authentication error. Message is the English
// fallback; the HTTP layer translates Code through the configured
// translator before responding. The wrapped cause, if any, is logged
// server-side and never sent to clients.
type Error struct {
	Code    string
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError creates an Error with the given code, message and offending field.
func NewError(code, message, field string) *Error {
	return &Error{Code: code, Message: message, Field: field}
}

// NewValidationError flags malformed input on the named field.
func NewValidationError(message, field string) *Error {
	return &Error{Code: CodeValidation, Message: message, Field: field}
}

// WrapBackendError hides a storage failure behind an opaque user-facing
// error while keeping the cause available for logging.
func WrapBackendError(err error) *Error {
	return &Error{Code: CodeBackend, Message: "Storage error", cause: err}
}

// IsCode reports whether err carries the given ooth error code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func errNotLoggedIn() *Error {
	return NewError(CodeNotLoggedIn, "Not logged in", "")
}

func errAlreadyLoggedIn() *Error {
	return NewError(CodeAlreadyLoggedIn, "Already logged in", "")
}

func errAlreadyRegistered() *Error {
	return NewError(CodeAlreadyRegistered, "Already registered", "")
}

func errNotRegisteredWith(strategy string) *Error {
	return NewError(CodeNotRegisteredWith, fmt.Sprintf("Not registered with %s", strategy), "")
}

func errAmbiguousIdentity() *Error {
	return NewError(CodeAmbiguousIdentity, "Credentials match more than one account", "")
}

func errForeignStrategyBinding() *Error {
	return NewError(CodeForeignStrategyBinding, "These credentials belong to another account", "")
}

func errDuplicateRegistration(strategy, method string) *Error {
	return NewError(CodeDuplicateRegistration, fmt.Sprintf("secondary auth %s/%s registered twice", strategy, method), "")
}

func errTokenInvalid() *Error {
	return NewError(CodeTokenInvalid, "Invalid token", "")
}

func errTokenExpired() *Error {
	return NewError(CodeTokenExpired, "Token expired", "")
}
