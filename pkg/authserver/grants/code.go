// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"errors"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// exchangeAuthorizationCode redeems an authorization code. The redemption
// itself is an atomic remove-and-return, so a replayed code fails before any
// of the checks below run.
func (p *Pipeline) exchangeAuthorizationCode(ctx context.Context, c *client.Client, req *TokenRequest) (*oauth.TokenResponse, error) {
	if req.Code == "" {
		return nil, oauth.ErrInvalidRequest.WithDescription("The code parameter is required")
	}

	grant, err := p.codes.Redeem(ctx, req.Code)
	if errors.Is(err, token.ErrCodeNotFound) {
		return nil, oauth.ErrInvalidGrant.WithDescription("The authorization code is invalid or has expired")
	}
	if err != nil {
		logger.Errorw("authorization code redemption failed", "client_id", c.ID, "error", err)
		return nil, oauth.ErrServerError.WithDescription("Code redemption failed")
	}

	if grant.Context.ClientID != c.ID {
		logger.Warnw("authorization code presented by wrong client",
			"code_client_id", grant.Context.ClientID, "client_id", c.ID)
		return nil, oauth.ErrInvalidGrant.WithDescription("The authorization code was issued to another client")
	}
	if grant.Context.RedirectURI != req.RedirectURI {
		return nil, oauth.ErrInvalidGrant.WithDescription("The redirect_uri does not match the authorization request")
	}

	if err := verifyPKCE(c, grant.Context, req.CodeVerifier); err != nil {
		return nil, err
	}

	return p.issue(ctx, c, grant, issueOptions{
		includeRefresh: true,
		includeIDToken: true,
	})
}

// verifyPKCE enforces the challenge recorded at authorization time against
// the presented verifier.
func verifyPKCE(c *client.Client, authCtx *token.AuthorizationContext, verifier string) error {
	if authCtx.CodeChallenge == "" {
		if c.RequirePKCE {
			return oauth.ErrInvalidGrant.WithDescription("The client requires PKCE but no code challenge was recorded")
		}
		if verifier != "" {
			return oauth.ErrInvalidGrant.WithDescription("A code_verifier was presented but no code challenge was recorded")
		}
		return nil
	}

	if verifier == "" {
		return oauth.ErrInvalidGrant.WithDescription("The code_verifier parameter is required")
	}
	if !token.VerifyCodeChallenge(authCtx.CodeChallengeMethod, verifier, authCtx.CodeChallenge) {
		logger.Warnw("PKCE verification failed", "client_id", c.ID,
			"method", authCtx.CodeChallengeMethod)
		return oauth.ErrInvalidGrant.WithDescription("The code_verifier does not match the code challenge")
	}
	return nil
}
