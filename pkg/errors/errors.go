package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Ledger and dispatch business rules.
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeOrderNotFound       Code = "ORDER_NOT_FOUND"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeAlreadyAssigned     Code = "ALREADY_ASSIGNED"
	CodeNoPendingRequest    Code = "NO_PENDING_REQUEST"
	CodeCodeMismatch        Code = "CODE_MISMATCH"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"

	// CodeTransactionConflict is surfaced when a write kept losing
	// optimistic concurrency races after the bounded retries ran out.
	CodeTransactionConflict Code = "TRANSACTION_CONFLICT"
)

// Metadata describes how a code surfaces over HTTP. ExposeMessage lets the
// caller-facing message replace PublicMessage; it is only set for codes whose
// messages never carry internal detail.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ExposeMessage  bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:          {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, ExposeMessage: true},
	CodeUnauthorized:        {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ExposeMessage: true},
	CodeForbidden:           {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", ExposeMessage: true},
	CodeNotFound:            {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", ExposeMessage: true},
	CodeConflict:            {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", ExposeMessage: true},
	CodeStateConflict:       {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true, ExposeMessage: true},
	CodeIdempotency:         {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true, ExposeMessage: true},
	CodeRateLimit:           {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", ExposeMessage: true},
	CodeInternal:            {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:          {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
	CodeAccountNotFound:     {HTTPStatus: http.StatusNotFound, PublicMessage: "account not found", DetailsAllowed: true, ExposeMessage: true},
	CodeOrderNotFound:       {HTTPStatus: http.StatusNotFound, PublicMessage: "order not found", DetailsAllowed: true, ExposeMessage: true},
	CodeInsufficientBalance: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "insufficient balance", DetailsAllowed: true, ExposeMessage: true},
	CodeAlreadyAssigned:     {HTTPStatus: http.StatusConflict, PublicMessage: "order already assigned", ExposeMessage: true},
	CodeNoPendingRequest:    {HTTPStatus: http.StatusConflict, PublicMessage: "no pending delivery request", ExposeMessage: true},
	CodeCodeMismatch:        {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "verification code mismatch", ExposeMessage: true},
	CodeInvalidTransition:   {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "status transition not allowed", DetailsAllowed: true, ExposeMessage: true},
	CodeTransactionConflict: {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "concurrent update, retry the request"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
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

// IsCode reports whether err carries the given typed code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
