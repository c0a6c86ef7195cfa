// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/openauthd/openauthd/pkg/authserver/authorize"
	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/metrics"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// SessionCookieSeparator joins the candidate session ids inside the SSO
// cookie.
const SessionCookieSeparator = "|"

// AuthorizeConfig points the interaction outcomes at the host UI.
type AuthorizeConfig struct {
	// SessionCookieName is the SSO cookie carrying the candidate session
	// ids.
	SessionCookieName string

	// LoginURL and ConsentURL are the host UI pages the user agent is sent
	// to when interaction is required. The original authorization request
	// is replayed through the return_to query parameter.
	LoginURL   string
	ConsentURL string
}

// AuthorizeHandler serves the authorization endpoint. It accepts GET with
// query parameters and POST with a form body.
type AuthorizeHandler struct {
	clients  client.Provider
	pipeline *authorize.Pipeline
	par      *PARStore
	cfg      AuthorizeConfig
}

// NewAuthorizeHandler creates the authorization endpoint handler. par may
// be nil when pushed authorization requests are disabled.
func NewAuthorizeHandler(clients client.Provider, pipeline *authorize.Pipeline,
	par *PARStore, cfg AuthorizeConfig) *AuthorizeHandler {
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "openauthd_session"
	}
	return &AuthorizeHandler{clients: clients, pipeline: pipeline, par: par, cfg: cfg}
}

func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderDirectError(w, oauth.ErrInvalidRequest.WithDescription("Malformed request"))
		return
	}
	params := r.Form

	// Request objects by value are not supported, and a request carrying
	// both reference and value is always malformed.
	hasRequest := params.Get("request") != ""
	hasRequestURI := params.Get("request_uri") != ""
	switch {
	case hasRequest && hasRequestURI:
		h.renderDirectError(w, oauth.ErrInvalidRequest.WithDescription(
			"The request and request_uri parameters are mutually exclusive"))
		return
	case hasRequest:
		h.renderDirectError(w, oauth.ErrInvalidRequest.WithDescription(
			"Request objects by value are not supported"))
		return
	case hasRequestURI:
		if h.par == nil {
			h.renderDirectError(w, oauth.ErrInvalidRequest.WithDescription(
				"Pushed authorization requests are not enabled"))
			return
		}
		resolved, err := h.par.Resolve(r.Context(), params.Get("client_id"), params.Get("request_uri"))
		if err != nil {
			h.renderDirectError(w, err)
			return
		}
		params = resolved
	}

	c, err := h.clients.GetClient(r.Context(), params.Get("client_id"))
	if errors.Is(err, client.ErrNotFound) {
		h.renderDirectError(w, oauth.ErrInvalidRequest.WithDescription("Unknown client"))
		return
	}
	if err != nil {
		logger.Errorw("client lookup failed", "error", err)
		h.renderDirectError(w, oauth.ErrServerError)
		return
	}

	req, err := h.parseAuthorizeRequest(r, params)
	if err != nil {
		h.renderDirectError(w, err)
		return
	}

	// Everything after this point may redirect: the redirect URI must be
	// known-good first.
	if !c.HasRedirectURI(req.RedirectURI) {
		h.renderDirectError(w, oauth.ErrInvalidRequest.WithDescription(
			"The redirect_uri is not registered for this client"))
		return
	}
	if err := req.Validate(c); err != nil {
		redirectError(w, r, req.RedirectURI, req.EffectiveResponseMode(), oauth.AsError(err), req.State)
		return
	}

	outcome, err := h.pipeline.Authorize(r.Context(), c, req)
	if err != nil {
		logger.Errorw("authorization pipeline failed", "client_id", c.ID, "error", err)
		redirectError(w, r, req.RedirectURI, req.EffectiveResponseMode(), oauth.ErrServerError, req.State)
		return
	}
	metrics.AuthorizationRequests.WithLabelValues(string(outcome.Decision)).Inc()

	switch outcome.Decision {
	case authorize.DecisionAuthenticated:
		h.completeAuthorization(w, r, outcome)
	case authorize.DecisionLoginRequired:
		h.redirectInteraction(w, r, h.cfg.LoginURL, nil)
	case authorize.DecisionAccountSelection:
		h.redirectInteraction(w, r, h.cfg.LoginURL, url.Values{"prompt": {string(oauth.PromptSelectAccount)}})
	case authorize.DecisionConsentRequired:
		h.redirectInteraction(w, r, h.cfg.ConsentURL, url.Values{
			"scope":      {oauth.JoinSpaceDelimited(outcome.PendingScopes)},
			"session_id": {outcome.ConsentSessionID},
		})
	case authorize.DecisionError:
		redirectError(w, r, outcome.RedirectURI, outcome.ResponseMode, outcome.Err, outcome.State)
	}
}

// parseAuthorizeRequest decodes params into the pipeline's request type.
func (h *AuthorizeHandler) parseAuthorizeRequest(r *http.Request, params url.Values) (*authorize.Request, error) {
	responseTypes, oe := oauth.ParseResponseTypes(params.Get("response_type"))
	if oe != nil {
		return nil, oe
	}
	prompt, oe := oauth.ParsePrompt(params.Get("prompt"))
	if oe != nil {
		return nil, oe
	}
	responseMode, oe := oauth.ParseResponseMode(params.Get("response_mode"))
	if oe != nil {
		return nil, oe
	}
	challengeMethod, oe := oauth.ParseCodeChallengeMethod(params.Get("code_challenge_method"))
	if oe != nil {
		return nil, oe
	}

	var maxAge *int64
	if raw := params.Get("max_age"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, oauth.ErrInvalidRequest.WithDescription("The max_age parameter must be an integer")
		}
		maxAge = &seconds
	}

	var claims *token.ClaimsRequest
	if raw := params.Get("claims"); raw != "" {
		var parsed struct {
			IDToken  map[string]json.RawMessage `json:"id_token"`
			Userinfo map[string]json.RawMessage `json:"userinfo"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, oauth.ErrInvalidRequest.WithDescription("The claims parameter is not valid JSON")
		}
		claims = &token.ClaimsRequest{}
		for name := range parsed.IDToken {
			claims.IDToken = append(claims.IDToken, name)
		}
		for name := range parsed.Userinfo {
			claims.Userinfo = append(claims.Userinfo, name)
		}
	}

	return &authorize.Request{
		ClientID:            params.Get("client_id"),
		ResponseTypes:       responseTypes,
		RedirectURI:         params.Get("redirect_uri"),
		Scopes:              oauth.SplitSpaceDelimited(params.Get("scope")),
		Resources:           params["resource"],
		State:               params.Get("state"),
		Nonce:               params.Get("nonce"),
		Prompt:              prompt,
		MaxAge:              maxAge,
		ACRValues:           oauth.SplitSpaceDelimited(params.Get("acr_values")),
		ResponseMode:        responseMode,
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: challengeMethod,
		RequestedClaims:     claims,
		SessionIDs:          h.sessionIDs(r),
	}, nil
}

// sessionIDs decodes the SSO cookie into candidate session ids.
func (h *AuthorizeHandler) sessionIDs(r *http.Request) []string {
	cookie, err := r.Cookie(h.cfg.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	var sids []string
	for _, sid := range strings.Split(cookie.Value, SessionCookieSeparator) {
		if sid != "" {
			sids = append(sids, sid)
		}
	}
	return sids
}

// completeAuthorization encodes the minted artifacts into the redirect and
// pins the SSO cookie to the session that answered.
func (h *AuthorizeHandler) completeAuthorization(w http.ResponseWriter, r *http.Request, outcome *authorize.Outcome) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    outcome.SessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})

	params := url.Values{}
	if outcome.Tokens.Code != "" {
		params.Set("code", outcome.Tokens.Code)
	}
	if outcome.Tokens.AccessToken != "" {
		params.Set("access_token", outcome.Tokens.AccessToken)
		params.Set("token_type", outcome.Tokens.TokenType)
		params.Set("expires_in", strconv.FormatInt(outcome.Tokens.ExpiresIn, 10))
	}
	if outcome.Tokens.IDToken != "" {
		params.Set("id_token", outcome.Tokens.IDToken)
	}
	if outcome.State != "" {
		params.Set("state", outcome.State)
	}
	params.Set("session_state", outcome.SessionID)

	redirectParams(w, r, outcome.RedirectURI, outcome.ResponseMode, params)
}

// redirectInteraction hands the user agent to the host UI, replaying the
// original authorization request in return_to.
func (h *AuthorizeHandler) redirectInteraction(w http.ResponseWriter, r *http.Request, target string, extra url.Values) {
	if target == "" {
		h.renderDirectError(w, oauth.ErrInteractionRequired.WithDescription(
			"User interaction is required and no interaction UI is configured"))
		return
	}

	u, err := url.Parse(target)
	if err != nil {
		logger.Errorw("unparsable interaction URL", "url", target, "error", err)
		h.renderDirectError(w, oauth.ErrServerError)
		return
	}
	q := u.Query()
	q.Set("return_to", r.URL.String())
	for name := range extra {
		q.Set(name, extra.Get(name))
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// renderDirectError answers the user agent without touching any redirect
// URI. Used when the redirect target itself cannot be trusted.
func (h *AuthorizeHandler) renderDirectError(w http.ResponseWriter, err error) {
	oe := oauth.AsError(err)
	writeJSON(w, oe.Status, oe)
}
