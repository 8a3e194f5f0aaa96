package cookie

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Errors.
var (
	ErrNotFound  = errors.New("cookie: not found")
	ErrBadSecret = errors.New("cookie: secret must be 32+ bytes")
	ErrDecrypt   = errors.New("cookie: decryption failed")
)

// Manager writes and reads encrypted, authenticated cookies. Values are
// JSON-encoded, sealed with AES-GCM, and base64-encoded; tampering fails
// decryption rather than producing garbage values.
type Manager struct {
	key      [32]byte
	domain   string
	path     string
	secure   bool
	httpOnly bool
	sameSite http.SameSite
}

// Option configures the Manager.
type Option func(*Manager)

// New creates a cookie Manager. The secret must be at least 32 bytes.
func New(secret string, opts ...Option) (*Manager, error) {
	if len(secret) < 32 {
		return nil, ErrBadSecret
	}
	m := &Manager{
		key:      sha256.Sum256([]byte(secret)),
		path:     "/",
		httpOnly: true,
		sameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// WithDomain sets the cookie domain.
func WithDomain(domain string) Option {
	return func(m *Manager) { m.domain = domain }
}

// WithPath sets the cookie path.
func WithPath(path string) Option {
	return func(m *Manager) { m.path = path }
}

// WithSecure sets the Secure flag.
func WithSecure(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithSameSite sets the SameSite attribute.
func WithSameSite(ss http.SameSite) Option {
	return func(m *Manager) { m.sameSite = ss }
}

// Set seals v into an encrypted cookie. maxAge follows http.Cookie
// semantics (seconds; 0 = session cookie).
func (m *Manager) Set(w http.ResponseWriter, name string, v any, maxAge int) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ciphertext, err := m.encrypt(plaintext)
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(name, base64.RawURLEncoding.EncodeToString(ciphertext), maxAge))
	return nil
}

// Get opens an encrypted cookie into dest.
// Returns ErrNotFound if the cookie is absent and ErrDecrypt if the value
// was tampered with or sealed under a different secret.
func (m *Manager) Get(r *http.Request, name string, dest any) error {
	c, err := r.Cookie(name)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return ErrNotFound
		}
		return err
	}

	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return ErrDecrypt
	}
	plaintext, err := m.decrypt(data)
	if err != nil {
		return ErrDecrypt
	}
	return json.Unmarshal(plaintext, dest)
}

// Delete removes a cookie.
func (m *Manager) Delete(w http.ResponseWriter, name string) {
	http.SetCookie(w, m.cookie(name, "", -1))
}

func (m *Manager) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (m *Manager) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   m.domain,
		Path:     m.path,
		MaxAge:   maxAge,
		Secure:   m.secure,
		HttpOnly: m.httpOnly,
		SameSite: m.sameSite,
	}
}
