// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/consent"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// Pipeline drives an already-validated authorization request to one of the
// five terminal decisions.
type Pipeline struct {
	sessions *session.Store
	consents consent.Provider
	codes    *token.CodeStore
	minter   *token.Minter
	clock    clockwork.Clock
}

// NewPipeline creates the authorization pipeline.
func NewPipeline(sessions *session.Store, consents consent.Provider, codes *token.CodeStore,
	minter *token.Minter, clock clockwork.Clock) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		sessions: sessions,
		consents: consents,
		codes:    codes,
		minter:   minter,
		clock:    clock,
	}
}

// Authorize runs the pipeline for the client. Protocol and interaction
// outcomes are reported in the Outcome; only infrastructure failures return
// a non-nil error.
func (p *Pipeline) Authorize(ctx context.Context, c *client.Client, req *Request) (*Outcome, error) {
	candidates, err := p.sessions.List(ctx, req.SessionIDs)
	if err != nil {
		return nil, fmt.Errorf("authorize: list sessions: %w", err)
	}

	candidates = session.FilterByMaxAge(candidates, req.MaxAge, p.clock.Now())
	candidates = session.FilterByACR(candidates, req.ACRValues)

	sess, interaction := p.selectSession(req, candidates)
	if interaction != nil {
		return interaction, nil
	}

	decision, interaction, err := p.resolveConsent(ctx, req, sess)
	if err != nil {
		return nil, err
	}
	if interaction != nil {
		return interaction, nil
	}

	// Sign-in tick: remember this client uses the session, for logout
	// fan-out later.
	if sess.TouchClient(c.ID) {
		if err := p.sessions.Save(ctx, sess); err != nil {
			return nil, fmt.Errorf("authorize: persist session: %w", err)
		}
	}

	grant := &token.AuthorizedGrant{
		Session: sess,
		Context: &token.AuthorizationContext{
			ClientID:            c.ID,
			Scopes:              decision.GrantedScopes,
			Resources:           decision.GrantedResources,
			RedirectURI:         req.RedirectURI,
			Nonce:               req.Nonce,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			RequestedClaims:     req.RequestedClaims,
		},
	}

	tokens, err := p.mint(ctx, c, req, grant)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Decision:     DecisionAuthenticated,
		Tokens:       tokens,
		SessionID:    sess.SessionID,
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.EffectiveResponseMode(),
		State:        req.State,
	}, nil
}

// selectSession applies the prompt rules to the filtered candidates and
// returns either the single surviving session or an interaction outcome.
func (p *Pipeline) selectSession(req *Request, candidates []*session.AuthSession) (*session.AuthSession, *Outcome) {
	switch req.Prompt {
	case oauth.PromptNone:
		switch len(candidates) {
		case 1:
			return candidates[0], nil
		case 0:
			return nil, p.errorOutcome(req, oauth.ErrLoginRequired)
		default:
			return nil, p.errorOutcome(req, oauth.ErrAccountSelectionRequired)
		}
	case oauth.PromptLogin:
		return nil, &Outcome{Decision: DecisionLoginRequired}
	case oauth.PromptSelectAccount:
		return nil, &Outcome{Decision: DecisionAccountSelection, Sessions: candidates}
	}

	switch len(candidates) {
	case 0:
		return nil, &Outcome{Decision: DecisionLoginRequired}
	case 1:
		return candidates[0], nil
	default:
		return nil, &Outcome{Decision: DecisionAccountSelection, Sessions: candidates}
	}
}

// resolveConsent decides what the user still needs to approve.
// prompt=consent forces a fresh approval of everything requested.
func (p *Pipeline) resolveConsent(ctx context.Context, req *Request, sess *session.AuthSession) (*consent.Decision, *Outcome, error) {
	if req.Prompt == oauth.PromptConsent {
		return nil, &Outcome{
			Decision:         DecisionConsentRequired,
			PendingScopes:    req.Scopes,
			PendingResources: req.Resources,
			ConsentSessionID: sess.SessionID,
		}, nil
	}

	decision, err := p.consents.Decide(ctx, consent.Request{
		ClientID:  req.ClientID,
		Scopes:    req.Scopes,
		Resources: req.Resources,
	}, sess)
	if err != nil {
		return nil, nil, fmt.Errorf("authorize: consent decision: %w", err)
	}

	if decision.NeedsConsent() {
		if req.Prompt == oauth.PromptNone {
			return nil, p.errorOutcome(req, oauth.ErrConsentRequired), nil
		}
		return nil, &Outcome{
			Decision:         DecisionConsentRequired,
			PendingScopes:    decision.PendingScopes,
			PendingResources: decision.PendingResources,
			ConsentSessionID: sess.SessionID,
		}, nil
	}

	return decision, nil, nil
}

// mint produces the artifacts for each requested response type. The
// identity token is minted last so it can bind the code and access token.
func (p *Pipeline) mint(ctx context.Context, c *client.Client, req *Request, grant *token.AuthorizedGrant) (*Tokens, error) {
	tokens := &Tokens{}

	if req.wantsResponseType(oauth.ResponseTypeCode) {
		code, err := p.codes.Issue(ctx, grant, c.AuthorizationCodeLifetime())
		if err != nil {
			return nil, fmt.Errorf("authorize: issue code: %w", err)
		}
		tokens.Code = code
	}

	if req.wantsResponseType(oauth.ResponseTypeToken) {
		accessToken, lifetime, err := p.minter.MintAccessToken(ctx, c, grant)
		if err != nil {
			return nil, fmt.Errorf("authorize: mint access token: %w", err)
		}
		tokens.AccessToken = accessToken
		tokens.TokenType = oauth.TokenTypeBearer
		tokens.ExpiresIn = int64(lifetime.Seconds())
	}

	if req.wantsResponseType(oauth.ResponseTypeIDToken) {
		soleResponseType := len(req.ResponseTypes) == 1
		idToken, err := p.minter.MintIdentityToken(ctx, c, grant, token.IdentityTokenOptions{
			IncludeUserClaims: soleResponseType || c.ForceUserClaimsInIDToken,
			Code:              tokens.Code,
			AccessToken:       tokens.AccessToken,
		})
		if err != nil {
			return nil, fmt.Errorf("authorize: mint identity token: %w", err)
		}
		tokens.IDToken = idToken
	}

	logger.Debugw("authorization granted", "client_id", c.ID,
		"session_id", grant.Session.SessionID, "response_types", req.ResponseTypes)
	return tokens, nil
}

func (p *Pipeline) errorOutcome(req *Request, err *oauth.Error) *Outcome {
	return &Outcome{
		Decision:     DecisionError,
		Err:          err,
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.EffectiveResponseMode(),
		State:        req.State,
	}
}
