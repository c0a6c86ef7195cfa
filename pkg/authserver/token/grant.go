// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// ClaimsRequest lists the individual claim names the client asked for via
// the claims parameter, split by destination.
type ClaimsRequest struct {
	IDToken  []string `json:"id_token,omitempty"`
	Userinfo []string `json:"userinfo,omitempty"`
}

// AuthorizationContext captures the validated request parameters that must
// survive from the authorization endpoint to token minting.
type AuthorizationContext struct {
	ClientID            string                    `json:"client_id"`
	Scopes              []string                  `json:"scopes,omitempty"`
	Resources           []string                  `json:"resources,omitempty"`
	RedirectURI         string                    `json:"redirect_uri,omitempty"`
	Nonce               string                    `json:"nonce,omitempty"`
	CodeChallenge       string                    `json:"code_challenge,omitempty"`
	CodeChallengeMethod oauth.CodeChallengeMethod `json:"code_challenge_method,omitempty"`
	RequestedClaims     *ClaimsRequest            `json:"requested_claims,omitempty"`
}

// AuthorizedGrant pairs an authenticated session with the authorization
// context it approved. Every token operation consumes this tuple.
type AuthorizedGrant struct {
	Session *session.AuthSession  `json:"session"`
	Context *AuthorizationContext `json:"context"`
}
