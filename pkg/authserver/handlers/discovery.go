// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/openauthd/openauthd/pkg/oauth"
)

// DiscoveryConfig describes the deployment for the metadata documents.
type DiscoveryConfig struct {
	Issuer           string
	ScopesSupported  []string
	ACRValues        []string
	SigningAlgorithm string
}

// DiscoveryHandler serves the RFC 8414 metadata, the OIDC discovery
// document, and the JWKS.
type DiscoveryHandler struct {
	metadata oauth.AuthorizationServerMetadata
	oidc     oauth.OIDCDiscoveryDocument
	jwks     *jose.JSONWebKeySet
}

// NewDiscoveryHandler builds the static documents once; they only change
// on restart.
func NewDiscoveryHandler(cfg DiscoveryConfig, jwks *jose.JSONWebKeySet) *DiscoveryHandler {
	issuer := strings.TrimSuffix(cfg.Issuer, "/")

	metadata := oauth.AuthorizationServerMetadata{
		Issuer:                             issuer,
		AuthorizationEndpoint:              issuer + "/authorize",
		TokenEndpoint:                      issuer + "/token",
		JWKSURI:                            issuer + "/jwks",
		ScopesSupported:                    cfg.ScopesSupported,
		ResponseTypesSupported:             []string{"code", "token", "id_token", "code id_token", "code token", "id_token token", "code id_token token"},
		ResponseModesSupported:             []string{"query", "fragment", "form_post"},
		GrantTypesSupported:                []string{string(oauth.GrantTypeAuthorizationCode), string(oauth.GrantTypeRefreshToken), string(oauth.GrantTypeClientCredentials), string(oauth.GrantTypePassword), string(oauth.GrantTypeCIBA), string(oauth.GrantTypeDeviceCode)},
		TokenEndpointAuthMethodsSupported:  []string{"client_secret_basic", "client_secret_post", "none"},
		IntrospectionEndpoint:              issuer + "/introspect",
		RevocationEndpoint:                 issuer + "/revoke",
		DeviceAuthorizationEndpoint:        issuer + "/device_authorization",
		PushedAuthorizationRequestEndpoint: issuer + "/par",
		CodeChallengeMethodsSupported:      []string{string(oauth.CodeChallengeMethodPlain), string(oauth.CodeChallengeMethodS256), string(oauth.CodeChallengeMethodS512)},
	}

	oidc := oauth.OIDCDiscoveryDocument{
		AuthorizationServerMetadata:            metadata,
		EndSessionEndpoint:                     issuer + "/logout",
		SubjectTypesSupported:                  []string{string(oauth.SubjectTypePublic), string(oauth.SubjectTypePairwise)},
		IDTokenSigningAlgValuesSupported:       []string{cfg.SigningAlgorithm},
		ACRValuesSupported:                     cfg.ACRValues,
		BackchannelLogoutSupported:             true,
		BackchannelLogoutSessionSupported:      true,
		FrontchannelLogoutSupported:            true,
		FrontchannelLogoutSessionSupported:     true,
		BackchannelTokenDeliveryModesSupported: []string{string(oauth.CIBADeliveryPoll), string(oauth.CIBADeliveryPing), string(oauth.CIBADeliveryPush)},
		BackchannelAuthenticationEndpoint:      issuer + "/bc-authorize",
	}

	return &DiscoveryHandler{metadata: metadata, oidc: oidc, jwks: jwks}
}

// Metadata serves /.well-known/oauth-authorization-server.
func (h *DiscoveryHandler) Metadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.metadata)
}

// OIDCConfiguration serves /.well-known/openid-configuration.
func (h *DiscoveryHandler) OIDCConfiguration(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.oidc)
}

// JWKS serves the public signing keys.
func (h *DiscoveryHandler) JWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.jwks)
}
