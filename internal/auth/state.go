package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// stateLength is the number of random bytes behind the anti-forgery state
// parameter. 32 bytes gives 256 bits of entropy, enough that the state is
// unguessable across any number of concurrent flows.
const stateLength = 32

// generateState creates a random, URL-safe state string. It doubles as the
// flow id keying the provisioning signal for this browser's attempt.
func generateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
