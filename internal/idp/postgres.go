package idp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = "23505"

// Postgres is the production Backend backed by the principals table.
type Postgres struct {
	pool      *pgxpool.Pool
	broadcast *broadcaster
}

// NewPostgres creates a Postgres-backed authentication backend.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, broadcast: newBroadcaster()}
}

func (p *Postgres) CreatePrincipal(ctx context.Context, email, secret string) (*Principal, error) {
	email = normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("idp: hash secret: %w", err)
	}

	principal := &Principal{
		UID:       uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO principals (uid, email, secret_hash, created_at) VALUES ($1, $2, $3, $4)`,
		principal.UID, principal.Email, hash, principal.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("idp: create principal: %w", err)
	}

	p.broadcast.publish(Event{Principal: principal})
	return principal, nil
}

func (p *Postgres) SignIn(ctx context.Context, email, secret string) (*Principal, error) {
	email = normalizeEmail(email)

	var (
		principal Principal
		hash      []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT uid, email, secret_hash, created_at FROM principals WHERE email = $1`,
		email,
	).Scan(&principal.UID, &principal.Email, &hash, &principal.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("idp: sign in: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}

	p.broadcast.publish(Event{Principal: &principal})
	return &principal, nil
}

func (p *Postgres) Subscribe() (<-chan Event, func()) {
	return p.broadcast.subscribe()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
