package directory

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu       sync.Mutex
	admins   map[string]AdminRecord
	orgs     map[string]Organization
	byArcGIS map[string]string // arcgis org id -> slug
	profiles map[string]Profile
	watchers map[string][]chan Organization
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		admins:   make(map[string]AdminRecord),
		orgs:     make(map[string]Organization),
		byArcGIS: make(map[string]string),
		profiles: make(map[string]Profile),
		watchers: make(map[string][]chan Organization),
	}
}

func (m *Memory) Admin(_ context.Context, uid string) (*AdminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.admins[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) PutAdmin(_ context.Context, rec AdminRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.admins[rec.UID] = rec
	return nil
}

func (m *Memory) Organization(_ context.Context, id string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

func (m *Memory) OrganizationByProviderOrg(_ context.Context, arcgisOrgID string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slug, ok := m.byArcGIS[arcgisOrgID]
	if !ok {
		return nil, ErrNotFound
	}
	org := m.orgs[slug]
	return &org, nil
}

func (m *Memory) SlugExists(_ context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.orgs[slug]
	return ok, nil
}

func (m *Memory) CreateTenant(_ context.Context, profile Profile, org Organization, admin AdminRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orgs[org.ID]; ok {
		return ErrSlugTaken
	}
	if org.ArcGISOrgID != "" {
		if _, ok := m.byArcGIS[org.ArcGISOrgID]; ok {
			return ErrDuplicateProviderOrg
		}
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = now
	}
	if org.Notifications == nil {
		org.Notifications = []byte("[]")
	}

	m.profiles[profile.UID] = profile
	m.orgs[org.ID] = org
	if org.ArcGISOrgID != "" {
		m.byArcGIS[org.ArcGISOrgID] = org.ID
	}
	m.admins[admin.UID] = admin
	return nil
}

func (m *Memory) WatchOrganization(ctx context.Context, id string) (<-chan Organization, error) {
	m.mu.Lock()
	ch := make(chan Organization, 1)
	m.watchers[id] = append(m.watchers[id], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[id]
		for i, w := range watchers {
			if w == ch {
				m.watchers[id] = append(watchers[:i], watchers[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// UpdateOrganization replaces a tenant document and notifies watchers.
// It stands in for the out-of-scope CRUD screens that edit organizations.
func (m *Memory) UpdateOrganization(_ context.Context, org Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orgs[org.ID]; !ok {
		return ErrNotFound
	}
	m.orgs[org.ID] = org

	for _, ch := range m.watchers[org.ID] {
		select {
		case ch <- org:
		default:
		}
	}
	return nil
}

// Profile returns a stored user profile (test inspection helper).
func (m *Memory) Profile(_ context.Context, uid string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// OrganizationCount reports how many tenants exist (test inspection helper).
func (m *Memory) OrganizationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orgs)
}
