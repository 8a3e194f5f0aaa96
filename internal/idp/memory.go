package idp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Backend for tests and local development.
// Secrets are compared in plain text; it must never back a real deployment.
type Memory struct {
	mu        sync.Mutex
	byEmail   map[string]*memoryAccount
	broadcast *broadcaster
}

type memoryAccount struct {
	principal Principal
	secret    string
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		byEmail:   make(map[string]*memoryAccount),
		broadcast: newBroadcaster(),
	}
}

func (m *Memory) CreatePrincipal(_ context.Context, email, secret string) (*Principal, error) {
	email = normalizeEmail(email)

	m.mu.Lock()
	if _, ok := m.byEmail[email]; ok {
		m.mu.Unlock()
		return nil, ErrEmailTaken
	}

	account := &memoryAccount{
		principal: Principal{
			UID:       uuid.NewString(),
			Email:     email,
			CreatedAt: time.Now().UTC(),
		},
		secret: secret,
	}
	m.byEmail[email] = account
	principal := account.principal
	m.mu.Unlock()

	m.broadcast.publish(Event{Principal: &principal})
	return &principal, nil
}

func (m *Memory) SignIn(_ context.Context, email, secret string) (*Principal, error) {
	email = normalizeEmail(email)

	m.mu.Lock()
	account, ok := m.byEmail[email]
	if !ok || account.secret != secret {
		m.mu.Unlock()
		return nil, ErrInvalidCredentials
	}
	principal := account.principal
	m.mu.Unlock()

	m.broadcast.publish(Event{Principal: &principal})
	return &principal, nil
}

func (m *Memory) Subscribe() (<-chan Event, func()) {
	return m.broadcast.subscribe()
}

// Publish pushes an event to all subscribers (test helper; a nil-principal
// event simulates sign-out, which the memory backend has no operation for).
func (m *Memory) Publish(ev Event) {
	m.broadcast.publish(ev)
}
