// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"slices"
	"strings"
)

// GrantType identifies a token endpoint grant (RFC 6749 Section 4, RFC 8628,
// OIDC CIBA Core).
type GrantType string

// Supported grant types.
const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypePassword          GrantType = "password"
	GrantTypeCIBA              GrantType = "urn:openid:params:grant-type:ciba"
	GrantTypeDeviceCode        GrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// ParseGrantType parses the grant_type form parameter.
// An unrecognized value is a structured unsupported_grant_type error.
func ParseGrantType(s string) (GrantType, *Error) {
	switch gt := GrantType(s); gt {
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials,
		GrantTypePassword, GrantTypeCIBA, GrantTypeDeviceCode:
		return gt, nil
	case "":
		return "", ErrInvalidRequest.WithDescription("The grant_type parameter is required")
	default:
		return "", ErrUnsupportedGrantType.WithDescription("The grant type %q is not supported", s)
	}
}

// ResponseType is a single member of the space-separated response_type
// authorization parameter (OIDC Core Section 3).
type ResponseType string

// Supported response types.
const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
)

// ParseResponseTypes parses the space-separated response_type parameter.
// Order on the wire is not significant; duplicates are rejected.
func ParseResponseTypes(s string) ([]ResponseType, *Error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, ErrInvalidRequest.WithDescription("The response_type parameter is required")
	}

	var types []ResponseType
	for _, f := range fields {
		rt := ResponseType(f)
		switch rt {
		case ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken:
		default:
			return nil, ErrUnsupportedResponseType.WithDescription("The response type %q is not supported", f)
		}
		if slices.Contains(types, rt) {
			return nil, ErrInvalidRequest.WithDescription("Duplicate response type %q", f)
		}
		types = append(types, rt)
	}

	// token alone is the implicit flow without an id_token; any combination
	// of code/token/id_token is a valid OIDC flow.
	return types, nil
}

// Prompt is the OIDC prompt authorization parameter.
type Prompt string

// Supported prompt values.
const (
	PromptUnspecified   Prompt = ""
	PromptNone          Prompt = "none"
	PromptLogin         Prompt = "login"
	PromptConsent       Prompt = "consent"
	PromptSelectAccount Prompt = "select_account"
)

// ParsePrompt parses the prompt parameter.
func ParsePrompt(s string) (Prompt, *Error) {
	switch p := Prompt(s); p {
	case PromptUnspecified, PromptNone, PromptLogin, PromptConsent, PromptSelectAccount:
		return p, nil
	default:
		return "", ErrInvalidRequest.WithDescription("The prompt value %q is not supported", s)
	}
}

// ResponseMode is the OIDC response_mode authorization parameter.
type ResponseMode string

// Supported response modes.
const (
	ResponseModeUnspecified ResponseMode = ""
	ResponseModeQuery       ResponseMode = "query"
	ResponseModeFragment    ResponseMode = "fragment"
	ResponseModeFormPost    ResponseMode = "form_post"
)

// ParseResponseMode parses the response_mode parameter.
func ParseResponseMode(s string) (ResponseMode, *Error) {
	switch m := ResponseMode(s); m {
	case ResponseModeUnspecified, ResponseModeQuery, ResponseModeFragment, ResponseModeFormPost:
		return m, nil
	default:
		return "", ErrInvalidRequest.WithDescription("The response_mode value %q is not supported", s)
	}
}

// DefaultResponseMode returns the response mode mandated by OAuth 2.0
// Multiple Response Types when the client did not request one: query for the
// pure code flow, fragment for implicit and hybrid flows.
func DefaultResponseMode(types []ResponseType) ResponseMode {
	if len(types) == 1 && types[0] == ResponseTypeCode {
		return ResponseModeQuery
	}
	return ResponseModeFragment
}

// CodeChallengeMethod is the PKCE code_challenge_method parameter (RFC 7636).
type CodeChallengeMethod string

// Supported code challenge methods. S512 is a non-standard extension clients
// opt into via registration.
const (
	CodeChallengeMethodPlain CodeChallengeMethod = "plain"
	CodeChallengeMethodS256  CodeChallengeMethod = "S256"
	CodeChallengeMethodS512  CodeChallengeMethod = "S512"
)

// ParseCodeChallengeMethod parses the code_challenge_method parameter.
// An absent value defaults to plain per RFC 7636 Section 4.3.
func ParseCodeChallengeMethod(s string) (CodeChallengeMethod, *Error) {
	switch m := CodeChallengeMethod(s); m {
	case "":
		return CodeChallengeMethodPlain, nil
	case CodeChallengeMethodPlain, CodeChallengeMethodS256, CodeChallengeMethodS512:
		return m, nil
	default:
		return "", ErrInvalidRequest.WithDescription("The code_challenge_method %q is not supported", s)
	}
}

// SubjectType selects the subject identifier derivation for a client
// (OIDC Core Section 8).
type SubjectType string

// Supported subject types.
const (
	SubjectTypePublic   SubjectType = "public"
	SubjectTypePairwise SubjectType = "pairwise"
)

// CIBADeliveryMode selects how CIBA authentication results are delivered to
// the client (CIBA Core Section 5).
type CIBADeliveryMode string

// Supported CIBA delivery modes.
const (
	CIBADeliveryPoll CIBADeliveryMode = "poll"
	CIBADeliveryPing CIBADeliveryMode = "ping"
	CIBADeliveryPush CIBADeliveryMode = "push"
)

// TokenTypeBearer is the token_type for all access tokens issued here.
const TokenTypeBearer = "Bearer"

// IssuedTokenTypeAccessToken is the RFC 8693 token type URI reported in
// token responses via issued_token_type.
const IssuedTokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

// SplitSpaceDelimited splits a space-separated parameter value (scope,
// acr_values) into its members, dropping empty fields.
func SplitSpaceDelimited(s string) []string {
	return strings.Fields(s)
}

// JoinSpaceDelimited joins parameter members into the wire form.
func JoinSpaceDelimited(values []string) string {
	return strings.Join(values, " ")
}
