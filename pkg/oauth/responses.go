// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/json"
	"maps"
)

// TokenResponse is the token endpoint success payload (RFC 6749 Section 5.1).
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	IDToken         string `json:"id_token,omitempty"`
	Scope           string `json:"scope,omitempty"`
	IssuedTokenType string `json:"issued_token_type,omitempty"`
}

// DeviceAuthorizationResponse is the device authorization endpoint payload
// (RFC 8628 Section 3.2).
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// PushedAuthorizationResponse is the PAR endpoint payload (RFC 9126
// Section 2.2).
type PushedAuthorizationResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int64  `json:"expires_in"`
}

// BackchannelAuthenticationResponse is the CIBA backchannel authentication
// endpoint payload (CIBA Core Section 7.3).
type BackchannelAuthenticationResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int64  `json:"expires_in"`
	Interval  int64  `json:"interval,omitempty"`
}

// IntrospectionResponse is the introspection endpoint payload (RFC 7662
// Section 2.2). Claims holds the token payload when the token is active and
// is flattened into the top-level JSON object by the encoder; an inactive
// token leaks nothing beyond {"active": false}.
type IntrospectionResponse struct {
	Active bool           `json:"active"`
	Claims map[string]any `json:"-"`
}

// MarshalJSON flattens Claims alongside active. The active marker always
// wins over a claim of the same name, and an inactive response is exactly
// {"active": false} no matter what Claims holds.
func (r *IntrospectionResponse) MarshalJSON() ([]byte, error) {
	if !r.Active {
		return []byte(`{"active":false}`), nil
	}
	flat := make(map[string]any, len(r.Claims)+1)
	maps.Copy(flat, r.Claims)
	flat["active"] = true
	return json.Marshal(flat)
}
