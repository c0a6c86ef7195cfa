// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaims_MarshalPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	c := NewClaims()
	c.Set("iss", "https://op.example.com")
	c.Set("aud", []string{"c1"})
	c.Set("sub", "u1")
	c.SetTime("iat", time.Unix(1756000000, 0))

	data, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"iss":"https://op.example.com","aud":["c1"],"sub":"u1","iat":1756000000}`, string(data))

	// Overwriting keeps the original position.
	c.Set("aud", "c2")
	data, err = c.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"iss":"https://op.example.com","aud":"c2","sub":"u1","iat":1756000000}`, string(data))
}

func TestClaims_RoundTrip(t *testing.T) {
	t.Parallel()

	c := NewClaims()
	c.Set("jti", "abc")
	c.Set("exp", int64(1756000123))
	c.Set("scope", "openid profile")
	c.Set("resources", []string{"https://api.example.com"})

	data, err := c.MarshalJSON()
	require.NoError(t, err)

	parsed, err := ParseClaims(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"jti", "exp", "scope", "resources"}, parsed.Names())
	assert.Equal(t, "abc", parsed.GetString("jti"))
	assert.Equal(t, int64(1756000123), parsed.GetInt64("exp"))
	assert.Equal(t, time.Unix(1756000123, 0).UTC(), parsed.GetTime("exp"))
	assert.Equal(t, []string{"https://api.example.com"}, parsed.GetStringSlice("resources"))
}

func TestClaims_GetStringSliceScalarAud(t *testing.T) {
	t.Parallel()

	parsed, err := ParseClaims([]byte(`{"aud":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, parsed.GetStringSlice("aud"))
}

func TestParseClaims_RejectsNonObject(t *testing.T) {
	t.Parallel()

	_, err := ParseClaims([]byte(`["not","an","object"]`))
	assert.Error(t, err)
}
