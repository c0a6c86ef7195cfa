// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys loads or generates the server's signing key material and
// exposes it as a JWT signer and a public JWKS.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// SigningKey is the server's active signing key with its derived or
// configured parameters.
type SigningKey struct {
	// Key is the private key.
	Key crypto.Signer

	// ID is the kid header value, an RFC 7638 thumbprint unless
	// configured explicitly.
	ID string

	// Algorithm is the JWS algorithm name.
	Algorithm string
}

// LoadFromFile reads a PEM private key. PKCS1, SEC 1 and PKCS8 encodings are
// accepted. Empty keyID or algorithm are derived from the key; provided
// values are validated against it.
func LoadFromFile(path, keyID, algorithm string) (*SigningKey, error) {
	keyPEM, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("keys: read signing key: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block in signing key file")
	}

	signer, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return newSigningKey(signer, keyID, algorithm)
}

// Generate creates an ephemeral signing key for the algorithm. Intended for
// development and tests; production deployments load a persistent key so
// tokens survive restarts.
func Generate(algorithm string) (*SigningKey, error) {
	if algorithm == "" {
		algorithm = "RS256"
	}

	var (
		signer crypto.Signer
		err    error
	)
	switch algorithm {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case "ES256":
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		signer, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		signer, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("keys: cannot generate key for algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("keys: generate %s key: %w", algorithm, err)
	}

	return newSigningKey(signer, "", algorithm)
}

// JWKS returns the public key set served at the jwks_uri.
func (k *SigningKey) JWKS() *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       k.Key.Public(),
				KeyID:     k.ID,
				Algorithm: k.Algorithm,
				Use:       "sig",
			},
		},
	}
}

func newSigningKey(signer crypto.Signer, keyID, algorithm string) (*SigningKey, error) {
	if algorithm == "" {
		derived, err := deriveAlgorithm(signer)
		if err != nil {
			return nil, err
		}
		algorithm = derived
	} else if err := validateAlgorithmForKey(algorithm, signer); err != nil {
		return nil, err
	}

	if keyID == "" {
		derived, err := deriveKeyID(signer)
		if err != nil {
			return nil, err
		}
		keyID = derived
	}

	return &SigningKey{Key: signer, ID: keyID, Algorithm: algorithm}, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if rsaKey, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := x509.ParseECPrivateKey(der); err == nil {
		return ecKey, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("keys: parse signing key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("keys: key of type %T cannot sign", key)
	}
	return signer, nil
}

// deriveKeyID computes the RFC 7638 JWK thumbprint of the public key.
func deriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("keys: key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

func deriveAlgorithm(key crypto.Signer) (string, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return "RS256", nil
	case *ecdsa.PrivateKey:
		return ecAlgorithm(k.Curve)
	default:
		return "", fmt.Errorf("keys: unsupported key type %T", key)
	}
}

func ecAlgorithm(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P256():
		return "ES256", nil
	case elliptic.P384():
		return "ES384", nil
	case elliptic.P521():
		return "ES512", nil
	default:
		return "", fmt.Errorf("keys: unsupported EC curve %s", curve.Params().Name)
	}
}

func validateAlgorithmForKey(alg string, key crypto.Signer) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch alg {
		case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
			return nil
		default:
			return fmt.Errorf("keys: algorithm %s does not fit an RSA key", alg)
		}
	case *ecdsa.PrivateKey:
		expected, err := ecAlgorithm(k.Curve)
		if err != nil {
			return err
		}
		if alg != expected {
			return fmt.Errorf("keys: algorithm %s does not fit curve %s (want %s)",
				alg, k.Curve.Params().Name, expected)
		}
		return nil
	default:
		return fmt.Errorf("keys: unsupported key type %T", key)
	}
}
