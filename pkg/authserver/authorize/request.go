// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package authorize implements the authorization endpoint pipeline: session
// selection under prompt/max_age/acr_values, consent resolution, and
// response-type minting.
package authorize

import (
	"slices"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// Request is a parsed authorization request. SessionIDs carries the
// candidate single-sign-on sessions the user agent presented (cookie
// material decoded by the host).
type Request struct {
	ClientID            string
	ResponseTypes       []oauth.ResponseType
	RedirectURI         string
	Scopes              []string
	Resources           []string
	State               string
	Nonce               string
	Prompt              oauth.Prompt
	MaxAge              *int64
	ACRValues           []string
	ResponseMode        oauth.ResponseMode
	CodeChallenge       string
	CodeChallengeMethod oauth.CodeChallengeMethod
	RequestedClaims     *token.ClaimsRequest
	SessionIDs          []string
}

// EffectiveResponseMode resolves the response mode the redirect must use.
func (r *Request) EffectiveResponseMode() oauth.ResponseMode {
	if r.ResponseMode != oauth.ResponseModeUnspecified {
		return r.ResponseMode
	}
	return oauth.DefaultResponseMode(r.ResponseTypes)
}

// wantsResponseType reports whether the request asks for the given token.
func (r *Request) wantsResponseType(rt oauth.ResponseType) bool {
	return slices.Contains(r.ResponseTypes, rt)
}

// Validate checks the request against the client registration. The
// redirect URI must already be known-good before any error is returned via
// redirect, so it is validated first and failures here are rendered
// directly to the user agent, never redirected.
func (r *Request) Validate(c *client.Client) error {
	if !c.HasRedirectURI(r.RedirectURI) {
		return oauth.ErrInvalidRequest.WithDescription("The redirect_uri is not registered for this client")
	}
	if len(r.ResponseTypes) == 0 {
		return oauth.ErrInvalidRequest.WithDescription("The response_type parameter is required")
	}
	if !c.AllowsResponseTypes(r.ResponseTypes) {
		return oauth.ErrUnauthorizedClient.WithDescription("The client is not registered for the requested response types")
	}
	for _, s := range r.Scopes {
		if !c.AllowsScope(s) {
			return oauth.ErrInvalidScope.WithDescription("The scope %q is not allowed for this client", s)
		}
	}
	for _, res := range r.Resources {
		if err := oauth.ValidateEndpointURI(res, false); err != nil {
			return oauth.ErrInvalidTarget.WithDescription("The resource %q is not a valid absolute URI", res)
		}
	}

	if r.wantsResponseType(oauth.ResponseTypeIDToken) && r.Nonce == "" {
		return oauth.ErrInvalidRequest.WithDescription("The nonce parameter is required when requesting an id_token")
	}

	if r.wantsResponseType(oauth.ResponseTypeCode) {
		if c.RequirePKCE && r.CodeChallenge == "" {
			return oauth.ErrInvalidRequest.WithDescription("The client requires PKCE; code_challenge is missing")
		}
		if r.CodeChallengeMethod == oauth.CodeChallengeMethodS512 && !c.AllowS512CodeChallenge {
			return oauth.ErrInvalidRequest.WithDescription("The client is not registered for the S512 code challenge method")
		}
	} else if r.CodeChallenge != "" {
		return oauth.ErrInvalidRequest.WithDescription("A code_challenge requires the code response type")
	}

	if r.MaxAge != nil && *r.MaxAge < 0 {
		return oauth.ErrInvalidRequest.WithDescription("The max_age parameter must be non-negative")
	}

	return nil
}
