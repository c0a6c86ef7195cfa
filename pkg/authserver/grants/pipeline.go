// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package grants implements the token endpoint pipeline: one validator per
// grant type, all producing the same token response shape.
package grants

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/metrics"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// ScopeOpenID gates identity-token minting; ScopeOfflineAccess gates refresh
// tokens.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// TokenRequest is the parsed token endpoint form, after client
// authentication.
type TokenRequest struct {
	GrantType    oauth.GrantType
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scopes       []string
	Resources    []string
	Username     string
	Password     string
	AuthReqID    string
	DeviceCode   string
}

// UserAuthenticator checks resource-owner credentials for the password
// grant. A nil session with a nil error means the credentials were rejected.
type UserAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*session.AuthSession, error)
}

// Redeemer resolves a pending out-of-band authorization (CIBA or device
// flow) into a grant. Implementations return authorization_pending,
// slow_down, expired_token or access_denied protocol errors while the
// end-user transaction is unresolved.
type Redeemer interface {
	Redeem(ctx context.Context, c *client.Client, id string) (*token.AuthorizedGrant, error)
}

// Pipeline dispatches token requests to per-grant validators and mints the
// resulting token bundles.
type Pipeline struct {
	codes    *token.CodeStore
	minter   *token.Minter
	registry *token.Registry
	signer   token.Signer
	users    UserAuthenticator
	ciba     Redeemer
	device   Redeemer
	clock    clockwork.Clock
}

// PipelineOption configures optional pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithUserAuthenticator enables the password grant.
func WithUserAuthenticator(users UserAuthenticator) PipelineOption {
	return func(p *Pipeline) { p.users = users }
}

// WithCIBARedeemer enables the CIBA grant.
func WithCIBARedeemer(r Redeemer) PipelineOption {
	return func(p *Pipeline) { p.ciba = r }
}

// WithDeviceRedeemer enables the device_code grant.
func WithDeviceRedeemer(r Redeemer) PipelineOption {
	return func(p *Pipeline) { p.device = r }
}

// NewPipeline creates the token pipeline.
func NewPipeline(codes *token.CodeStore, minter *token.Minter, registry *token.Registry,
	signer token.Signer, clock clockwork.Clock, opts ...PipelineOption) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	p := &Pipeline{
		codes:    codes,
		minter:   minter,
		registry: registry,
		signer:   signer,
		clock:    clock,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Exchange validates the request for the authenticated client and mints the
// token response. Protocol failures come back as *oauth.Error.
func (p *Pipeline) Exchange(ctx context.Context, c *client.Client, req *TokenRequest) (*oauth.TokenResponse, error) {
	if !c.AllowsGrantType(req.GrantType) {
		return nil, oauth.ErrUnauthorizedClient.WithDescription(
			"The client is not authorized for grant type %q", req.GrantType)
	}

	switch req.GrantType {
	case oauth.GrantTypeAuthorizationCode:
		return p.exchangeAuthorizationCode(ctx, c, req)
	case oauth.GrantTypeRefreshToken:
		return p.exchangeRefreshToken(ctx, c, req)
	case oauth.GrantTypeClientCredentials:
		return p.exchangeClientCredentials(ctx, c, req)
	case oauth.GrantTypePassword:
		return p.exchangePassword(ctx, c, req)
	case oauth.GrantTypeCIBA:
		return p.exchangeRedeemed(ctx, c, p.ciba, req.AuthReqID, "auth_req_id")
	case oauth.GrantTypeDeviceCode:
		return p.exchangeRedeemed(ctx, c, p.device, req.DeviceCode, "device_code")
	default:
		return nil, oauth.ErrUnsupportedGrantType.WithDescription(
			"The grant type %q is not supported", req.GrantType)
	}
}

// IssueForGrant mints a full token bundle directly from an authorized
// grant, bypassing request validation. The CIBA push delivery path uses it
// to build the response it posts to the client notification endpoint.
func (p *Pipeline) IssueForGrant(ctx context.Context, c *client.Client, grant *token.AuthorizedGrant) (*oauth.TokenResponse, error) {
	return p.issue(ctx, c, grant, issueOptions{
		includeRefresh: true,
		includeIDToken: true,
	})
}

type issueOptions struct {
	includeRefresh  bool
	includeIDToken  bool
	lineageIssuedAt time.Time
}

// issue mints the access token and, per options and scope, the refresh and
// identity tokens.
func (p *Pipeline) issue(ctx context.Context, c *client.Client, grant *token.AuthorizedGrant, opts issueOptions) (*oauth.TokenResponse, error) {
	accessToken, lifetime, err := p.minter.MintAccessToken(ctx, c, grant)
	if err != nil {
		logger.Errorw("access token minting failed", "client_id", c.ID, "error", err)
		return nil, oauth.ErrServerError.WithDescription("Token minting failed")
	}

	metrics.TokensIssued.WithLabelValues("access").Inc()

	resp := &oauth.TokenResponse{
		AccessToken:     accessToken,
		TokenType:       oauth.TokenTypeBearer,
		ExpiresIn:       int64(lifetime.Seconds()),
		Scope:           oauth.JoinSpaceDelimited(grant.Context.Scopes),
		IssuedTokenType: oauth.IssuedTokenTypeAccessToken,
	}

	if opts.includeRefresh && c.AllowOfflineAccess && slices.Contains(grant.Context.Scopes, ScopeOfflineAccess) {
		rt, err := p.minter.MintRefreshToken(ctx, c, grant, opts.lineageIssuedAt)
		switch {
		case errors.Is(err, token.ErrExpiredLineage):
			// The lineage is used up; the bundle is still valid, just
			// without a replacement refresh token.
		case err != nil:
			logger.Errorw("refresh token minting failed", "client_id", c.ID, "error", err)
			return nil, oauth.ErrServerError.WithDescription("Token minting failed")
		default:
			resp.RefreshToken = rt.Token
			metrics.TokensIssued.WithLabelValues("refresh").Inc()
		}
	}

	if opts.includeIDToken && slices.Contains(grant.Context.Scopes, ScopeOpenID) {
		idToken, err := p.minter.MintIdentityToken(ctx, c, grant, token.IdentityTokenOptions{
			IncludeUserClaims: c.ForceUserClaimsInIDToken,
			AccessToken:       accessToken,
		})
		if err != nil {
			logger.Errorw("identity token minting failed", "client_id", c.ID, "error", err)
			return nil, oauth.ErrServerError.WithDescription("Token minting failed")
		}
		resp.IDToken = idToken
		metrics.TokensIssued.WithLabelValues("id").Inc()
	}

	return resp, nil
}

// validateScopes checks every requested scope against the client policy.
func validateScopes(c *client.Client, requested []string) error {
	for _, s := range requested {
		if !c.AllowsScope(s) {
			return oauth.ErrInvalidScope.WithDescription("The scope %q is not allowed for this client", s)
		}
	}
	return nil
}

// narrowScopes returns requested when it is a non-empty subset of granted,
// granted when the request omits scope, and an error otherwise.
func narrowScopes(granted, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return granted, nil
	}
	for _, s := range requested {
		if !slices.Contains(granted, s) {
			return nil, oauth.ErrInvalidScope.WithDescription("The scope %q exceeds the original grant", s)
		}
	}
	return requested, nil
}
