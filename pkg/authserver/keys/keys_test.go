// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openauthd/openauthd/pkg/authserver/token"
)

func writeKeyPEM(t *testing.T, blockType string, der []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestLoadFromFile_PKCS1(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writeKeyPEM(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey))

	key, err := LoadFromFile(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "RS256", key.Algorithm)
	assert.NotEmpty(t, key.ID)
}

func TestLoadFromFile_EC(t *testing.T) {
	t.Parallel()

	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	path := writeKeyPEM(t, "EC PRIVATE KEY", der)

	key, err := LoadFromFile(path, "my-kid", "")
	require.NoError(t, err)
	assert.Equal(t, "ES384", key.Algorithm)
	assert.Equal(t, "my-kid", key.ID)
}

func TestLoadFromFile_AlgorithmMismatch(t *testing.T) {
	t.Parallel()

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	path := writeKeyPEM(t, "EC PRIVATE KEY", der)

	_, err = LoadFromFile(path, "", "RS256")
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		alg     string
		wantAlg string
		wantErr bool
	}{
		{alg: "", wantAlg: "RS256"},
		{alg: "RS256", wantAlg: "RS256"},
		{alg: "ES256", wantAlg: "ES256"},
		{alg: "ES512", wantAlg: "ES512"},
		{alg: "HS256", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("alg_"+tt.alg, func(t *testing.T) {
			t.Parallel()

			key, err := Generate(tt.alg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlg, key.Algorithm)
			assert.NotEmpty(t, key.ID)
			require.Len(t, key.JWKS().Keys, 1)
			assert.Equal(t, "sig", key.JWKS().Keys[0].Use)
		})
	}
}

func TestJoseSigner_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	key, err := Generate("ES256")
	require.NoError(t, err)

	signer := NewJoseSigner(key)
	assert.Equal(t, "ES256", signer.Algorithm())

	claims := token.NewClaims()
	claims.Set("iss", "https://op.example.com")
	claims.Set("sub", "u1")
	payload, err := claims.MarshalJSON()
	require.NoError(t, err)

	jws, err := signer.Sign(ctx, token.TypRefreshToken, payload)
	require.NoError(t, err)

	verified, err := signer.Verify(ctx, jws)
	require.NoError(t, err)
	assert.Equal(t, token.TypRefreshToken, verified.Typ)
	assert.Equal(t, "u1", verified.Claims.GetString("sub"))
	assert.Equal(t, []string{"iss", "sub"}, verified.Claims.Names())
}

func TestJoseSigner_RejectsTampering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	key, err := Generate("RS256")
	require.NoError(t, err)
	signer := NewJoseSigner(key)

	jws, err := signer.Sign(ctx, token.TypAccessToken, []byte(`{"sub":"u1"}`))
	require.NoError(t, err)

	// Verifying with a different key fails.
	otherKey, err := Generate("RS256")
	require.NoError(t, err)
	_, err = NewJoseSigner(otherKey).Verify(ctx, jws)
	assert.Error(t, err)

	_, err = signer.Verify(ctx, "not.a.jwt")
	assert.Error(t, err)
}
