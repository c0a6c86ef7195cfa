// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package client defines the registered-client record and its validation
// rules, plus the narrow provider interface the endpoint pipelines use to
// look clients up.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/openauthd/openauthd/pkg/oauth"
)

// ErrNotFound indicates the client id is not registered.
var ErrNotFound = errors.New("client: not found")

// Default token lifetimes applied when a client registration leaves them
// unset.
const (
	DefaultAccessTokenLifetime       = time.Hour
	DefaultIdentityTokenLifetime     = 5 * time.Minute
	DefaultAuthorizationCodeLifetime = time.Minute
	DefaultRefreshTokenAbsolute      = 30 * 24 * time.Hour
	DefaultRefreshTokenSliding       = 15 * 24 * time.Hour
)

// Lifetimes holds per-client token lifetimes. Zero values fall back to the
// package defaults via the accessor methods on Client.
type Lifetimes struct {
	AccessToken       time.Duration `json:"access_token,omitempty" mapstructure:"access_token"`
	IdentityToken     time.Duration `json:"identity_token,omitempty" mapstructure:"identity_token"`
	AuthorizationCode time.Duration `json:"authorization_code,omitempty" mapstructure:"authorization_code"`
}

// RefreshTokenPolicy controls refresh-token issuance and rotation.
type RefreshTokenPolicy struct {
	// AllowReuse disables rotation: a presented refresh token stays valid
	// until expiry. When false, each redemption revokes the presented token
	// before a replacement is issued.
	AllowReuse bool `json:"allow_reuse,omitempty" mapstructure:"allow_reuse"`

	// AbsoluteLifetime bounds the token lineage from first issuance.
	AbsoluteLifetime time.Duration `json:"absolute_lifetime,omitempty" mapstructure:"absolute_lifetime"`

	// SlidingLifetime bounds each individual token from its own issuance.
	SlidingLifetime time.Duration `json:"sliding_lifetime,omitempty" mapstructure:"sliding_lifetime"`
}

// Client is a registered-client record: identity, policy, token shaping,
// and logout/CIBA endpoints.
type Client struct {
	// ID is the unique client identifier.
	ID string `json:"client_id" mapstructure:"client_id"`

	// SecretHash is the bcrypt hash of the client secret. Empty for public
	// clients.
	SecretHash []byte `json:"-" mapstructure:"-"`

	// JWKS holds the client's keys inline; JWKSURI references them instead.
	JWKS    *jose.JSONWebKeySet `json:"jwks,omitempty" mapstructure:"-"`
	JWKSURI string              `json:"jwks_uri,omitempty" mapstructure:"jwks_uri"`

	// Policy.
	GrantTypes             []oauth.GrantType    `json:"grant_types" mapstructure:"grant_types"`
	ResponseTypes          []oauth.ResponseType `json:"response_types,omitempty" mapstructure:"response_types"`
	RedirectURIs           []string             `json:"redirect_uris,omitempty" mapstructure:"redirect_uris"`
	PostLogoutRedirectURIs []string             `json:"post_logout_redirect_uris,omitempty" mapstructure:"post_logout_redirect_uris"`
	SectorIdentifierURI    string               `json:"sector_identifier_uri,omitempty" mapstructure:"sector_identifier_uri"`
	SubjectType            oauth.SubjectType    `json:"subject_type,omitempty" mapstructure:"subject_type"`
	RequirePKCE            bool                 `json:"require_pkce,omitempty" mapstructure:"require_pkce"`
	AllowS512CodeChallenge bool                 `json:"allow_s512_code_challenge,omitempty" mapstructure:"allow_s512_code_challenge"`
	Scopes                 []string             `json:"scopes,omitempty" mapstructure:"scopes"`
	AllowOfflineAccess     bool                 `json:"allow_offline_access,omitempty" mapstructure:"allow_offline_access"`

	// AllowLoopbackRedirects permits http:// redirect and logout URIs on the
	// loopback interface (native clients, RFC 8252).
	AllowLoopbackRedirects bool `json:"allow_loopback_redirects,omitempty" mapstructure:"allow_loopback_redirects"`

	// ForceUserClaimsInIDToken always inlines userinfo claims into identity
	// tokens, even when an access token is issued alongside.
	ForceUserClaimsInIDToken bool `json:"force_user_claims_in_id_token,omitempty" mapstructure:"force_user_claims_in_id_token"`

	// Token shaping.
	Lifetimes               Lifetimes          `json:"lifetimes,omitempty" mapstructure:"lifetimes"`
	RefreshToken            RefreshTokenPolicy `json:"refresh_token,omitempty" mapstructure:"refresh_token"`
	IDTokenSigningAlg       string             `json:"id_token_signed_response_alg,omitempty" mapstructure:"id_token_signed_response_alg"`
	UserinfoSigningAlg      string             `json:"userinfo_signed_response_alg,omitempty" mapstructure:"userinfo_signed_response_alg"`
	RequestObjectSigningAlg string             `json:"request_object_signing_alg,omitempty" mapstructure:"request_object_signing_alg"`

	// Logout endpoints.
	FrontChannelLogoutURI             string `json:"frontchannel_logout_uri,omitempty" mapstructure:"frontchannel_logout_uri"`
	FrontChannelLogoutSessionRequired bool   `json:"frontchannel_logout_session_required,omitempty" mapstructure:"frontchannel_logout_session_required"`
	BackChannelLogoutURI              string `json:"backchannel_logout_uri,omitempty" mapstructure:"backchannel_logout_uri"`
	BackChannelLogoutSessionRequired  bool   `json:"backchannel_logout_session_required,omitempty" mapstructure:"backchannel_logout_session_required"`

	// CIBA.
	CIBANotificationEndpoint string                 `json:"backchannel_client_notification_endpoint,omitempty" mapstructure:"backchannel_client_notification_endpoint"`
	CIBADeliveryMode         oauth.CIBADeliveryMode `json:"backchannel_token_delivery_mode,omitempty" mapstructure:"backchannel_token_delivery_mode"`
}

// IsPublic reports whether the client has no credential.
func (c *Client) IsPublic() bool {
	return len(c.SecretHash) == 0
}

// VerifySecret compares a presented secret against the stored bcrypt hash.
func (c *Client) VerifySecret(secret string) bool {
	if c.IsPublic() {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.SecretHash, []byte(secret)) == nil
}

// HashSecret produces a bcrypt hash suitable for Client.SecretHash.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// AllowsGrantType reports whether the client may use the given grant.
func (c *Client) AllowsGrantType(gt oauth.GrantType) bool {
	return slices.Contains(c.GrantTypes, gt)
}

// AllowsResponseTypes reports whether every requested response type is
// registered for the client.
func (c *Client) AllowsResponseTypes(types []oauth.ResponseType) bool {
	for _, rt := range types {
		if !slices.Contains(c.ResponseTypes, rt) {
			return false
		}
	}
	return true
}

// HasRedirectURI compares by exact string equality per OAuth 2.0 Security
// BCP; no normalization, no prefix matching.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// HasPostLogoutRedirectURI compares by exact string equality.
func (c *Client) HasPostLogoutRedirectURI(uri string) bool {
	return slices.Contains(c.PostLogoutRedirectURIs, uri)
}

// AllowsScope reports whether the scope is registered for the client.
func (c *Client) AllowsScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// AccessTokenLifetime returns the configured or default access-token
// lifetime.
func (c *Client) AccessTokenLifetime() time.Duration {
	if c.Lifetimes.AccessToken > 0 {
		return c.Lifetimes.AccessToken
	}
	return DefaultAccessTokenLifetime
}

// IdentityTokenLifetime returns the configured or default identity-token
// lifetime.
func (c *Client) IdentityTokenLifetime() time.Duration {
	if c.Lifetimes.IdentityToken > 0 {
		return c.Lifetimes.IdentityToken
	}
	return DefaultIdentityTokenLifetime
}

// AuthorizationCodeLifetime returns the configured or default code lifetime.
func (c *Client) AuthorizationCodeLifetime() time.Duration {
	if c.Lifetimes.AuthorizationCode > 0 {
		return c.Lifetimes.AuthorizationCode
	}
	return DefaultAuthorizationCodeLifetime
}

// RefreshTokenAbsoluteLifetime returns the configured or default absolute
// refresh lifetime.
func (c *Client) RefreshTokenAbsoluteLifetime() time.Duration {
	if c.RefreshToken.AbsoluteLifetime > 0 {
		return c.RefreshToken.AbsoluteLifetime
	}
	return DefaultRefreshTokenAbsolute
}

// RefreshTokenSlidingLifetime returns the configured or default sliding
// refresh lifetime.
func (c *Client) RefreshTokenSlidingLifetime() time.Duration {
	if c.RefreshToken.SlidingLifetime > 0 {
		return c.RefreshToken.SlidingLifetime
	}
	return DefaultRefreshTokenSliding
}

// SectorHost returns the host used for pairwise subject derivation: the
// sector identifier URI's host when registered, otherwise the shared host of
// the redirect URIs. An error means pairwise subjects cannot be derived for
// this client.
func (c *Client) SectorHost() (string, error) {
	if c.SectorIdentifierURI != "" {
		u, err := url.Parse(c.SectorIdentifierURI)
		if err != nil {
			return "", fmt.Errorf("invalid sector identifier URI: %w", err)
		}
		return u.Hostname(), nil
	}

	var host string
	for _, raw := range c.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid redirect URI %q: %w", raw, err)
		}
		switch {
		case host == "":
			host = u.Hostname()
		case host != u.Hostname():
			return "", fmt.Errorf("client %s: pairwise subject requires a sector identifier URI when redirect URI hosts differ", c.ID)
		}
	}
	if host == "" {
		return "", fmt.Errorf("client %s: pairwise subject requires a sector identifier URI or a redirect URI", c.ID)
	}
	return host, nil
}

// Validate checks the registration invariants. It is called when clients are
// registered, not on every request.
func (c *Client) Validate() error {
	if c.ID == "" {
		return errors.New("client id is required")
	}
	if len(c.GrantTypes) == 0 {
		return fmt.Errorf("client %s: at least one grant type is required", c.ID)
	}

	for _, uri := range c.RedirectURIs {
		if err := oauth.ValidateEndpointURI(uri, c.AllowLoopbackRedirects); err != nil {
			return fmt.Errorf("client %s: redirect URI: %w", c.ID, err)
		}
	}
	for _, uri := range c.PostLogoutRedirectURIs {
		if err := oauth.ValidateEndpointURI(uri, c.AllowLoopbackRedirects); err != nil {
			return fmt.Errorf("client %s: post-logout URI: %w", c.ID, err)
		}
	}
	for name, uri := range map[string]string{
		"sector identifier URI":      c.SectorIdentifierURI,
		"front-channel logout URI":   c.FrontChannelLogoutURI,
		"back-channel logout URI":    c.BackChannelLogoutURI,
		"CIBA notification endpoint": c.CIBANotificationEndpoint,
	} {
		if uri == "" {
			continue
		}
		if err := oauth.ValidateEndpointURI(uri, c.AllowLoopbackRedirects); err != nil {
			return fmt.Errorf("client %s: %s: %w", c.ID, name, err)
		}
	}

	if c.SubjectType == oauth.SubjectTypePairwise {
		if _, err := c.SectorHost(); err != nil {
			return err
		}
	}

	if c.AllowsGrantType(oauth.GrantTypeCIBA) {
		switch c.CIBADeliveryMode {
		case oauth.CIBADeliveryPoll:
		case oauth.CIBADeliveryPing, oauth.CIBADeliveryPush:
			if c.CIBANotificationEndpoint == "" {
				return fmt.Errorf("client %s: CIBA %s delivery requires a client notification endpoint", c.ID, c.CIBADeliveryMode)
			}
		default:
			return fmt.Errorf("client %s: unsupported CIBA delivery mode %q", c.ID, c.CIBADeliveryMode)
		}
	}

	return nil
}

// Provider looks up registered-client metadata.
type Provider interface {
	// GetClient returns the client record, or ErrNotFound.
	GetClient(ctx context.Context, id string) (*Client, error)
}
