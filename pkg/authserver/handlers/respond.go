// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers adapts the protocol pipelines to HTTP: request parsing,
// client authentication, response-mode encoding, and the chi router tying
// the endpoints together.
package handlers

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"

	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// writeJSON serializes v with the no-store headers every token-bearing
// response requires.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("response encoding failed", "error", err)
	}
}

// writeError renders a protocol error as its JSON body and HTTP status.
// invalid_client additionally carries the WWW-Authenticate challenge
// required by RFC 6749 Section 5.2.
func writeError(w http.ResponseWriter, err error) {
	oe := oauth.AsError(err)
	if oe.Code == oauth.ErrorCodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="token", error="invalid_client"`)
	}
	writeJSON(w, oe.Status, oe)
}

// formPostTemplate is the OAuth 2.0 form_post response mode document: an
// auto-submitting form carrying the response parameters.
var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit this form</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range $name, $value := .Params}}
<input type="hidden" name="{{$name}}" value="{{$value}}"/>
{{- end}}
</form>
</body>
</html>
`))

// redirectParams encodes params into redirectURI per the response mode and
// sends the user agent there. form_post renders the intermediate document
// instead of redirecting.
func redirectParams(w http.ResponseWriter, r *http.Request, redirectURI string,
	mode oauth.ResponseMode, params url.Values) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// The redirect URI was validated against the registration long
		// before this point; an unparsable one is a programming error.
		logger.Errorw("unparsable redirect URI past validation", "redirect_uri", redirectURI, "error", err)
		http.Error(w, "invalid redirect target", http.StatusInternalServerError)
		return
	}

	switch mode {
	case oauth.ResponseModeFragment:
		u.Fragment = ""
		u.RawFragment = ""
		target := u.String() + "#" + params.Encode()
		http.Redirect(w, r, target, http.StatusFound)
	case oauth.ResponseModeFormPost:
		flat := make(map[string]string, len(params))
		for name := range params {
			flat[name] = params.Get(name)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		err := formPostTemplate.Execute(w, struct {
			Action string
			Params map[string]string
		}{Action: u.String(), Params: flat})
		if err != nil {
			logger.Errorw("form_post rendering failed", "error", err)
		}
	default:
		q := u.Query()
		for name := range params {
			q.Set(name, params.Get(name))
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

// redirectError sends a protocol error to the client's redirect URI, with
// state echoed when present.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI string,
	mode oauth.ResponseMode, oe *oauth.Error, state string) {
	params := url.Values{"error": {oe.Code}}
	if oe.Description != "" {
		params.Set("error_description", oe.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	redirectParams(w, r, redirectURI, mode, params)
}
