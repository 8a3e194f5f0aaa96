package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	// organizationChannel is the LISTEN/NOTIFY channel the migration's
	// trigger publishes organization ids on.
	organizationChannel = "organization_changes"
)

// Postgres is the production Store. All organization watchers share one
// LISTEN connection; the listener starts with the first watcher and stops
// with the last.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	mu           sync.Mutex
	watchers     map[string][]chan Organization
	listenCancel context.CancelFunc
}

// NewPostgres creates a Postgres-backed document store.
func NewPostgres(pool *pgxpool.Pool, log *slog.Logger) *Postgres {
	return &Postgres{
		pool:     pool,
		log:      log,
		watchers: make(map[string][]chan Organization),
	}
}

func (s *Postgres) Admin(ctx context.Context, uid string) (*AdminRecord, error) {
	var rec AdminRecord
	var orgID *string
	err := s.pool.QueryRow(ctx,
		`SELECT uid, email, role, organization_id, disabled, created_at
		   FROM admin_records WHERE uid = $1`,
		uid,
	).Scan(&rec.UID, &rec.Email, &rec.Role, &orgID, &rec.Disabled, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: query admin record: %w", err)
	}
	if orgID != nil {
		rec.OrganizationID = *orgID
	}
	return &rec, nil
}

func (s *Postgres) PutAdmin(ctx context.Context, rec AdminRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO admin_records (uid, email, role, organization_id, disabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (uid) DO UPDATE
		    SET email = EXCLUDED.email,
		        role = EXCLUDED.role,
		        organization_id = EXCLUDED.organization_id,
		        disabled = EXCLUDED.disabled`,
		rec.UID, rec.Email, rec.Role, nullable(rec.OrganizationID), rec.Disabled, orNow(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("directory: put admin record: %w", err)
	}
	return nil
}

func (s *Postgres) Organization(ctx context.Context, id string) (*Organization, error) {
	return s.queryOrganization(ctx,
		`SELECT id, name, arcgis_org_id, notifications, created_at
		   FROM organizations WHERE id = $1`, id)
}

func (s *Postgres) OrganizationByProviderOrg(ctx context.Context, arcgisOrgID string) (*Organization, error) {
	return s.queryOrganization(ctx,
		`SELECT id, name, arcgis_org_id, notifications, created_at
		   FROM organizations WHERE arcgis_org_id = $1`, arcgisOrgID)
}

func (s *Postgres) queryOrganization(ctx context.Context, query, arg string) (*Organization, error) {
	var org Organization
	var providerOrg *string
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&org.ID, &org.Name, &providerOrg, &org.Notifications, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: query organization: %w", err)
	}
	if providerOrg != nil {
		org.ArcGISOrgID = *providerOrg
	}
	return &org, nil
}

func (s *Postgres) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("directory: check slug: %w", err)
	}
	return exists, nil
}

func (s *Postgres) CreateTenant(ctx context.Context, profile Profile, org Organization, admin AdminRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("directory: begin tenant transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UTC()
	notifications := org.Notifications
	if notifications == nil {
		notifications = []byte("[]")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_profiles (uid, username, full_name, email, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		profile.UID, profile.Username, profile.FullName, profile.Email, orNow(profile.CreatedAt),
	)
	if err != nil {
		return mapTenantError(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO organizations (id, name, arcgis_org_id, notifications, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Name, nullable(org.ArcGISOrgID), notifications, orNow(org.CreatedAt),
	)
	if err != nil {
		return mapTenantError(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO admin_records (uid, email, role, organization_id, disabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		admin.UID, admin.Email, admin.Role, nullable(admin.OrganizationID), admin.Disabled, now,
	)
	if err != nil {
		return mapTenantError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("directory: commit tenant transaction: %w", err)
	}
	return nil
}

// listenRetryInterval spaces reconnect attempts when the LISTEN connection
// drops.
const listenRetryInterval = 5 * time.Second

// WatchOrganization registers a watcher on the shared listener and returns
// a channel of re-read documents. The channel closes when ctx is done.
// Registering is cheap; the single LISTEN connection is held only while at
// least one watcher exists.
func (s *Postgres) WatchOrganization(ctx context.Context, id string) (<-chan Organization, error) {
	ch := make(chan Organization, 1)

	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	if s.listenCancel == nil {
		listenCtx, cancel := context.WithCancel(context.Background())
		s.listenCancel = cancel
		go s.listen(listenCtx)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.removeWatcher(id, ch)
	}()

	return ch, nil
}

func (s *Postgres) removeWatcher(id string, ch chan Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchers := s.watchers[id]
	for i, w := range watchers {
		if w == ch {
			s.watchers[id] = append(watchers[:i], watchers[i+1:]...)
			close(ch)
			break
		}
	}
	if len(s.watchers[id]) == 0 {
		delete(s.watchers, id)
	}
	if len(s.watchers) == 0 && s.listenCancel != nil {
		s.listenCancel()
		s.listenCancel = nil
	}
}

// listen holds the shared LISTEN connection, reconnecting until ctx is
// cancelled by the last watcher leaving.
func (s *Postgres) listen(ctx context.Context) {
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("organization listener reconnecting", slog.String("error", err.Error()))
		select {
		case <-time.After(listenRetryInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Postgres) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+organizationChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		org, err := s.Organization(ctx, notification.Payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("organization re-read failed",
				slog.String("org_id", notification.Payload), slog.String("error", err.Error()))
			continue
		}
		s.broadcastOrganization(*org)
	}
}

func (s *Postgres) broadcastOrganization(org Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.watchers[org.ID] {
		select {
		case ch <- org:
		default:
		}
	}
}

// mapTenantError translates uniqueness violations into sentinel errors the
// provisioner distinguishes: a slug collision is retryable with a suffix,
// a provider-org collision is a lost provisioning race.
func mapTenantError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "organizations_pkey":
			return ErrSlugTaken
		case "organizations_arcgis_org_id_key":
			return ErrDuplicateProviderOrg
		}
	}
	return fmt.Errorf("directory: create tenant: %w", err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
