// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// exchangeClientCredentials mints a machine-to-machine access token. No
// refresh token and no identity token; the subject is the client itself.
func (p *Pipeline) exchangeClientCredentials(ctx context.Context, c *client.Client, req *TokenRequest) (*oauth.TokenResponse, error) {
	if c.IsPublic() {
		return nil, oauth.ErrUnauthorizedClient.WithDescription("Public clients cannot use client_credentials")
	}
	if err := validateScopes(c, req.Scopes); err != nil {
		return nil, err
	}

	grant := &token.AuthorizedGrant{
		Session: &session.AuthSession{
			Subject:         c.ID,
			AuthenticatedAt: p.clock.Now().UTC(),
		},
		Context: &token.AuthorizationContext{
			ClientID:  c.ID,
			Scopes:    req.Scopes,
			Resources: req.Resources,
		},
	}

	return p.issue(ctx, c, grant, issueOptions{})
}

// exchangePassword delegates the credential check to the configured user
// authenticator. Forbidden for public clients: the grant pairs user
// credentials with client authentication by design.
func (p *Pipeline) exchangePassword(ctx context.Context, c *client.Client, req *TokenRequest) (*oauth.TokenResponse, error) {
	if p.users == nil {
		return nil, oauth.ErrUnsupportedGrantType.WithDescription("The password grant is not configured")
	}
	if c.IsPublic() {
		return nil, oauth.ErrUnauthorizedClient.WithDescription("Public clients cannot use the password grant")
	}
	if req.Username == "" || req.Password == "" {
		return nil, oauth.ErrInvalidRequest.WithDescription("The username and password parameters are required")
	}
	if err := validateScopes(c, req.Scopes); err != nil {
		return nil, err
	}

	sess, err := p.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		logger.Errorw("user authentication failed", "client_id", c.ID, "error", err)
		return nil, oauth.ErrServerError.WithDescription("Authentication backend unavailable")
	}
	if sess == nil {
		logger.Warnw("password grant rejected", "client_id", c.ID, "username", req.Username)
		return nil, oauth.ErrInvalidGrant.WithDescription("The resource owner credentials are invalid")
	}

	grant := &token.AuthorizedGrant{
		Session: sess,
		Context: &token.AuthorizationContext{
			ClientID:  c.ID,
			Scopes:    req.Scopes,
			Resources: req.Resources,
		},
	}

	return p.issue(ctx, c, grant, issueOptions{
		includeRefresh: true,
		includeIDToken: true,
	})
}

// exchangeRedeemed finishes a CIBA or device-flow transaction by handing the
// polled identifier to the engine's redeemer. Pending and throttled states
// surface as the protocol errors the redeemer returns.
func (p *Pipeline) exchangeRedeemed(ctx context.Context, c *client.Client, redeemer Redeemer, id, param string) (*oauth.TokenResponse, error) {
	if redeemer == nil {
		return nil, oauth.ErrUnsupportedGrantType.WithDescription("The grant type is not configured")
	}
	if id == "" {
		return nil, oauth.ErrInvalidRequest.WithDescription("The %s parameter is required", param)
	}

	grant, err := redeemer.Redeem(ctx, c, id)
	if err != nil {
		return nil, err
	}

	return p.issue(ctx, c, grant, issueOptions{
		includeRefresh: true,
		includeIDToken: true,
	})
}
