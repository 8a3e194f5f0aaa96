// Package secrets derives stable, password-equivalent secrets from external
// identity-provider attributes.
//
// The derived secret doubles as the password for a conventional email+password
// login on every subsequent visit; there is no server-side federation table,
// so the derivation must be deterministic. The construction is HKDF-SHA256
// keyed with a service-held pepper, so secrets cannot be recomputed from
// provider attributes alone.
package secrets

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	minPepperLen = 32
	secretLen    = 32
)

var (
	// ErrPepperTooShort is returned when the configured pepper is shorter
	// than 32 bytes.
	ErrPepperTooShort = errors.New("secrets: pepper must be at least 32 bytes")

	// ErrEmptyUsername is returned when derivation is attempted without a
	// provider username.
	ErrEmptyUsername = errors.New("secrets: username required")
)

// Deriver derives bridging secrets with a fixed service pepper.
type Deriver struct {
	pepper []byte
}

// NewDeriver creates a Deriver. The pepper must be at least 32 bytes and
// must remain stable across deployments: rotating it invalidates every
// bridged credential at once.
func NewDeriver(pepper string) (*Deriver, error) {
	if len(pepper) < minPepperLen {
		return nil, ErrPepperTooShort
	}
	return &Deriver{pepper: []byte(pepper)}, nil
}

// Derive returns the bridging secret for the given provider username and
// salt material. The function is pure: identical inputs always yield the
// identical secret.
func (d *Deriver) Derive(username, saltMaterial string) (string, error) {
	if username == "" {
		return "", ErrEmptyUsername
	}

	r := hkdf.New(sha256.New, d.pepper, []byte(saltMaterial), []byte("credential-bridge:"+username))
	buf := make([]byte, secretLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SaltMaterial picks the salt input for Derive: the provider email if
// present, else the provider organization id, else the username itself.
// The fallback chain keeps derivation total over any provider account shape.
func SaltMaterial(email, orgID, username string) string {
	switch {
	case email != "":
		return email
	case orgID != "":
		return orgID
	default:
		return username
	}
}
