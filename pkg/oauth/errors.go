// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth 2.0 / OIDC protocol error codes returned to clients.
const (
	ErrorCodeInvalidRequest           = "invalid_request"
	ErrorCodeInvalidClient            = "invalid_client"
	ErrorCodeInvalidGrant             = "invalid_grant"
	ErrorCodeUnauthorizedClient       = "unauthorized_client"
	ErrorCodeUnsupportedGrantType     = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType  = "unsupported_response_type"
	ErrorCodeInvalidScope             = "invalid_scope"
	ErrorCodeInvalidTarget            = "invalid_target"
	ErrorCodeAccessDenied             = "access_denied"
	ErrorCodeServerError              = "server_error"
	ErrorCodeLoginRequired            = "login_required"
	ErrorCodeConsentRequired          = "consent_required"
	ErrorCodeAccountSelectionRequired = "account_selection_required"
	ErrorCodeInteractionRequired      = "interaction_required"
	ErrorCodeAuthorizationPending     = "authorization_pending"
	ErrorCodeSlowDown                 = "slow_down"
	ErrorCodeExpiredToken             = "expired_token"
)

// Error is a structured OAuth/OIDC protocol error. It is serialized on the
// wire as {"error": ..., "error_description": ...} and carries the HTTP
// status the endpoint should respond with.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithDescription returns a copy of the error with the given description.
// The receiver is not mutated so the predefined errors stay constant.
func (e *Error) WithDescription(format string, args ...any) *Error {
	return &Error{
		Code:        e.Code,
		Description: fmt.Sprintf(format, args...),
		Status:      e.Status,
	}
}

// Is reports whether target is a protocol error with the same code,
// enabling errors.Is comparisons against the predefined values.
func (e *Error) Is(target error) bool {
	var oe *Error
	if !errors.As(target, &oe) {
		return false
	}
	return e.Code == oe.Code
}

// Predefined protocol errors. Handlers use WithDescription to attach detail.
var (
	ErrInvalidRequest           = &Error{Code: ErrorCodeInvalidRequest, Status: http.StatusBadRequest}
	ErrInvalidClient            = &Error{Code: ErrorCodeInvalidClient, Status: http.StatusUnauthorized}
	ErrInvalidGrant             = &Error{Code: ErrorCodeInvalidGrant, Status: http.StatusBadRequest}
	ErrUnauthorizedClient       = &Error{Code: ErrorCodeUnauthorizedClient, Status: http.StatusBadRequest}
	ErrUnsupportedGrantType     = &Error{Code: ErrorCodeUnsupportedGrantType, Status: http.StatusBadRequest}
	ErrUnsupportedResponseType  = &Error{Code: ErrorCodeUnsupportedResponseType, Status: http.StatusBadRequest}
	ErrInvalidScope             = &Error{Code: ErrorCodeInvalidScope, Status: http.StatusBadRequest}
	ErrInvalidTarget            = &Error{Code: ErrorCodeInvalidTarget, Status: http.StatusBadRequest}
	ErrAccessDenied             = &Error{Code: ErrorCodeAccessDenied, Status: http.StatusForbidden}
	ErrServerError              = &Error{Code: ErrorCodeServerError, Status: http.StatusInternalServerError}
	ErrLoginRequired            = &Error{Code: ErrorCodeLoginRequired, Status: http.StatusBadRequest}
	ErrConsentRequired          = &Error{Code: ErrorCodeConsentRequired, Status: http.StatusBadRequest}
	ErrAccountSelectionRequired = &Error{Code: ErrorCodeAccountSelectionRequired, Status: http.StatusBadRequest}
	ErrInteractionRequired      = &Error{Code: ErrorCodeInteractionRequired, Status: http.StatusBadRequest}
	ErrAuthorizationPending     = &Error{Code: ErrorCodeAuthorizationPending, Status: http.StatusBadRequest}
	ErrSlowDown                 = &Error{Code: ErrorCodeSlowDown, Status: http.StatusBadRequest}
	ErrExpiredToken             = &Error{Code: ErrorCodeExpiredToken, Status: http.StatusBadRequest}
)

// AsError converts err into a protocol error. Unrecognized errors map to
// server_error with the cause hidden from the client.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ErrServerError.WithDescription("The authorization server encountered an unexpected condition")
}
