package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/atinyakov/credvault/internal/models"
)

// MemoryCredentialRepository keeps credentials in process memory. It is used
// when no database is configured.
type MemoryCredentialRepository struct {
	mu      sync.RWMutex
	records map[string]models.Credential
	locks   map[string]*sync.Mutex
}

// NewMemoryCredentialRepository returns an empty store.
func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		records: make(map[string]models.Credential),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex that serialises mutations of id.
func (r *MemoryCredentialRepository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *MemoryCredentialRepository) load(id string) (models.Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.records[id]
	return c, ok
}

// Create stores c.
func (r *MemoryCredentialRepository) Create(ctx context.Context, c models.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[c.ID] = c
	return nil
}

// ListByOwner returns the owner's credentials, most recently updated first.
func (r *MemoryCredentialRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	creds := []models.Credential{}
	for _, c := range r.records {
		if c.OwnerID == ownerID {
			creds = append(creds, c)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(creds, func(a, b models.Credential) int {
		if n := b.UpdatedAt.Compare(a.UpdatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return creds, nil
}

// GetByID returns a copy of the credential or ErrNotFound.
func (r *MemoryCredentialRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := r.load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Mutate applies fn to a copy of the record under the record's lock and
// stores the result if fn succeeds.
func (r *MemoryCredentialRepository) Mutate(ctx context.Context, id string, fn func(*models.Credential) error) (*models.Credential, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := r.load(id)
	if !ok {
		return nil, ErrNotFound
	}

	ownerID := c.OwnerID
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.ID, c.OwnerID = id, ownerID

	r.mu.Lock()
	r.records[id] = c
	r.mu.Unlock()
	return &c, nil
}

// DeleteIf removes the record under its lock if check returns nil.
func (r *MemoryCredentialRepository) DeleteIf(ctx context.Context, id string, check func(*models.Credential) error) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	c, ok := r.load(id)
	if !ok {
		return ErrNotFound
	}
	if err := check(&c); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.records, id)
	delete(r.locks, id)
	r.mu.Unlock()
	return nil
}

// MemoryAuditRepository keeps audit entries in process memory.
type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
}

// NewMemoryAuditRepository returns an empty audit log.
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

// Append adds e to the log.
func (r *MemoryAuditRepository) Append(ctx context.Context, e models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// ListByCredential returns the entries for credentialID in append order.
func (r *MemoryAuditRepository) ListByCredential(ctx context.Context, credentialID string) ([]models.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.AuditLogEntry{}
	for _, e := range r.entries {
		if e.CredentialID == credentialID {
			out = append(out, e)
		}
	}
	return out, nil
}

// MemoryUserRepository keeps users in process memory.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byEmail map[string]models.User
}

// NewMemoryUserRepository returns an empty user store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byEmail: make(map[string]models.User)}
}

// CreateUser stores u unless its email or username is taken.
func (r *MemoryUserRepository) CreateUser(ctx context.Context, u models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byEmail {
		if existing.Email == u.Email || existing.Username == u.Username {
			return ErrUserExists
		}
	}
	r.byEmail[u.Email] = u
	return nil
}

// GetUserByEmail returns the user registered with email or ErrNotFound.
func (r *MemoryUserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}
