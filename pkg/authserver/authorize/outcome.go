// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// Decision tags the terminal states of the authorization pipeline.
type Decision string

// Pipeline outcomes. The interaction states (login, account selection,
// consent) are not errors: the host translates them into UI redirects.
const (
	DecisionAuthenticated    Decision = "authenticated"
	DecisionLoginRequired    Decision = "login_required"
	DecisionAccountSelection Decision = "account_selection_required"
	DecisionConsentRequired  Decision = "consent_required"
	DecisionError            Decision = "error"
)

// Tokens holds the artifacts minted for the requested response types.
type Tokens struct {
	Code        string
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	IDToken     string
}

// Outcome is the tagged result of the authorization pipeline. Only the
// fields of the active decision are populated.
type Outcome struct {
	Decision Decision

	// Authenticated.
	Tokens    *Tokens
	SessionID string

	// AccountSelection: the candidate sessions the user must choose from.
	Sessions []*session.AuthSession

	// ConsentRequired: what still needs approval, and the session it
	// applies to.
	PendingScopes    []string
	PendingResources []string
	ConsentSessionID string

	// Error.
	Err *oauth.Error

	// Redirect context, valid for Authenticated and Error.
	RedirectURI  string
	ResponseMode oauth.ResponseMode
	State        string
}
