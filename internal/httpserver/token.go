package httpserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/geonotify/portal/internal/idp"
)

var (
	// ErrTokenInvalid is returned for tokens that fail signature or
	// structural validation.
	ErrTokenInvalid = errors.New("httpserver: invalid session token")

	// ErrTokenExpired is returned for well-formed but expired tokens.
	ErrTokenExpired = errors.New("httpserver: session token expired")
)

// sessionTTL bounds a portal session. The provider token the session was
// minted from lives longer; the shorter of the two wins.
const sessionTTL = 12 * time.Hour

// sessionClaims is the JWT payload of a portal session.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	// Flow keys the provisioning signal of the signup this session came
	// from; empty for plain sign-ins.
	Flow string `json:"flow,omitempty"`
}

// tokenService mints and parses HS256 session tokens.
type tokenService struct {
	secret []byte
	now    func() time.Time
}

func newTokenService(secret string) *tokenService {
	return &tokenService{secret: []byte(secret), now: time.Now}
}

func (s *tokenService) mint(principal *idp.Principal, flowID string) (string, error) {
	now := s.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
		Email: principal.Email,
		Flow:  flowID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("httpserver: sign session token: %w", err)
	}
	return token, nil
}

func (s *tokenService) parse(raw string) (*sessionClaims, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	return &claims, nil
}
