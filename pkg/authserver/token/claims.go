// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package token is the token minting subsystem: access, identity, refresh
// and logout JWTs, the authorization-code service, PKCE verification,
// pairwise subject derivation, and the revocation registry.
package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Claims is an ordered claim map. Serialization order is insertion order,
// which keeps JWT payloads byte-stable for a given mint sequence.
type Claims struct {
	names  []string
	values map[string]any
}

// NewClaims creates an empty claim map.
func NewClaims() *Claims {
	return &Claims{values: make(map[string]any)}
}

// Set inserts or overwrites a claim. Overwriting keeps the original
// position.
func (c *Claims) Set(name string, value any) {
	if _, ok := c.values[name]; !ok {
		c.names = append(c.names, name)
	}
	c.values[name] = value
}

// SetTime stores a time claim as NumericDate (seconds since epoch).
func (c *Claims) SetTime(name string, t time.Time) {
	c.Set(name, t.Unix())
}

// Has reports whether the claim is present.
func (c *Claims) Has(name string) bool {
	_, ok := c.values[name]
	return ok
}

// Get returns the raw claim value.
func (c *Claims) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// GetString returns the claim as a string, or "" when absent or not a
// string.
func (c *Claims) GetString(name string) string {
	s, _ := c.values[name].(string)
	return s
}

// GetInt64 returns the claim as an int64, tolerating the numeric types JSON
// decoding produces.
func (c *Claims) GetInt64(name string) int64 {
	switch v := c.values[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// GetTime returns a NumericDate claim as a UTC time, or the zero time when
// absent.
func (c *Claims) GetTime(name string) time.Time {
	if !c.Has(name) {
		return time.Time{}
	}
	return time.Unix(c.GetInt64(name), 0).UTC()
}

// GetStringSlice returns the claim as a string slice. A scalar string claim
// yields a one-element slice, matching the aud claim's dual JSON form.
func (c *Claims) GetStringSlice(name string) []string {
	switch v := c.values[name].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Names returns the claim names in serialization order.
func (c *Claims) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Map returns the claims as a plain map, for callers that flatten them into
// other payloads (introspection).
func (c *Claims) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the claims as a JSON object in insertion order.
func (c *Claims) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range c.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(c.values[name])
		if err != nil {
			return nil, fmt.Errorf("claim %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseClaims decodes a JWT payload, preserving the document's claim order.
func ParseClaims(data []byte) (*Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("claims: payload is not a JSON object")
	}

	c := NewClaims()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("claims: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("claims: non-string key")
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("claims: claim %q: %w", key, err)
		}
		c.Set(key, value)
	}

	return c, nil
}
