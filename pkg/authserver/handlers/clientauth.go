// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// authenticateClient resolves and authenticates the client behind a
// back-channel request. It accepts HTTP Basic credentials
// (client_secret_basic) or client_id/client_secret form fields
// (client_secret_post); public clients present only a client_id. The form
// must already be parsed.
func authenticateClient(r *http.Request, clients client.Provider) (*client.Client, error) {
	clientID, clientSecret, fromBasic := r.BasicAuth()
	if fromBasic {
		// RFC 6749 Appendix B: Basic credentials are form-urlencoded
		// before base64.
		var err error
		if clientID, err = urlDecode(clientID); err != nil {
			return nil, oauth.ErrInvalidClient.WithDescription("Malformed Basic credentials")
		}
		if clientSecret, err = urlDecode(clientSecret); err != nil {
			return nil, oauth.ErrInvalidClient.WithDescription("Malformed Basic credentials")
		}
	} else {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}
	if clientID == "" {
		return nil, oauth.ErrInvalidClient.WithDescription("Client authentication is required")
	}

	c, err := clients.GetClient(r.Context(), clientID)
	if errors.Is(err, client.ErrNotFound) {
		return nil, oauth.ErrInvalidClient.WithDescription("Unknown client")
	}
	if err != nil {
		logger.Errorw("client lookup failed", "client_id", clientID, "error", err)
		return nil, oauth.ErrServerError.WithDescription("Client lookup failed")
	}

	if c.IsPublic() {
		if clientSecret != "" {
			return nil, oauth.ErrInvalidClient.WithDescription("The client has no registered secret")
		}
		return c, nil
	}

	if !c.VerifySecret(clientSecret) {
		logger.Warnw("client authentication failed", "client_id", clientID, "basic", fromBasic)
		return nil, oauth.ErrInvalidClient.WithDescription("Invalid client credentials")
	}
	return c, nil
}

func urlDecode(s string) (string, error) {
	return url.QueryUnescape(s)
}
