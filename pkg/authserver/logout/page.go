// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package logout

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"html/template"
	"slices"
	"strings"

	"github.com/openauthd/openauthd/pkg/oauth"
)

// pageTemplate renders one iframe per front-channel target. The contextual
// auto-escaper handles attribute and JS-string encoding, so the cookie name
// is safe to inject into the inline script.
var pageTemplate = template.Must(template.New("logout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Logging out</title>
<style nonce="{{.Nonce}}">body{font-family:sans-serif}iframe{display:none}</style>
</head>
<body>
<p>You are being signed out.</p>
{{- range .FrameSources}}
<iframe src="{{.}}"></iframe>
{{- end}}
{{- if .CookieName}}
<script nonce="{{.Nonce}}">document.cookie = {{.CookieName}} + "=; Max-Age=0; Path=/";</script>
{{- end}}
</body>
</html>
`))

// Page is a rendered front-channel logout document plus the CSP header the
// handler must attach to it.
type Page struct {
	HTML []byte
	CSP  string
}

type pageData struct {
	Nonce        string
	FrameSources []string
	CookieName   string
}

// BuildPage assembles the front-channel logout page: one iframe per unique
// frame source, a frame-src CSP built from their deduplicated origins, and
// a fresh nonce scoping the inline script and style. cookieName, when
// non-empty, is cleared client-side.
func BuildPage(frameSources []string, cookieName string) (*Page, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("logout: generate nonce: %w", err)
	}

	sources := make([]string, 0, len(frameSources))
	for _, src := range frameSources {
		if !slices.Contains(sources, src) {
			sources = append(sources, src)
		}
	}
	origins := make([]string, 0, len(sources))
	for _, src := range sources {
		origin, err := oauth.Origin(src)
		if err != nil {
			return nil, fmt.Errorf("logout: frame source %q: %w", src, err)
		}
		if !slices.Contains(origins, origin) {
			origins = append(origins, origin)
		}
	}

	var b strings.Builder
	err = pageTemplate.Execute(&b, pageData{
		Nonce:        nonce,
		FrameSources: sources,
		CookieName:   cookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("logout: render page: %w", err)
	}

	csp := "default-src 'none'; style-src 'nonce-" + nonce + "'; script-src 'nonce-" + nonce + "'"
	if len(origins) > 0 {
		csp += "; frame-src " + strings.Join(origins, " ")
	}

	return &Page{HTML: []byte(b.String()), CSP: csp}, nil
}

// newNonce returns 16 random bytes, base64 encoded, as required for CSP
// nonce sources.
func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
