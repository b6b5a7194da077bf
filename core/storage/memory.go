package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process UserStore and MediaStore for tests and development.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[int64]User
	medias map[string]MediaReference
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]User),
		medias: make(map[string]MediaReference),
	}
}

// FindByID returns a copy of the stored user.
func (m *MemoryStore) FindByID(_ context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

// Create inserts u if no user with the same id exists.
func (m *MemoryStore) Create(_ context.Context, u *User) error {
	if u == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.ID]; exists {
		return nil
	}
	m.users[u.ID] = *cloneUser(*u)
	return nil
}

// SetWaitingOn replaces the waiting-on token of an existing user.
func (m *MemoryStore) SetWaitingOn(_ context.Context, id int64, token *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.WaitingOn = cloneString(token)
	m.users[id] = u
	return nil
}

// IsAdmin reports the admin flag; unknown users are not admins.
func (m *MemoryStore) IsAdmin(_ context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[id].IsAdmin, nil
}

// SetAdmin upserts the admin flag.
func (m *MemoryStore) SetAdmin(_ context.Context, id int64, admin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = User{ID: id}
	}
	u.IsAdmin = admin
	m.users[id] = u
	return nil
}

// Users returns the number of stored users.
func (m *MemoryStore) Users() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// FindByPath looks up a media reference by path.
func (m *MemoryStore) FindByPath(_ context.Context, path string) (*MediaReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ref := range m.medias {
		if ref.Path == path {
			r := ref
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// CreateMedia stores a media reference under a new id. An existing reference
// for path keeps its id and gets the new upload id.
func (m *MemoryStore) CreateMedia(_ context.Context, path, uploadID string) (*MediaReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ref := range m.medias {
		if ref.Path == path {
			ref.UploadID = uploadID
			m.medias[id] = ref
			return &ref, nil
		}
	}
	ref := MediaReference{ID: uuid.NewString(), Path: path, UploadID: uploadID}
	m.medias[ref.ID] = ref
	return &ref, nil
}

// DeleteMedia removes a media reference.
func (m *MemoryStore) DeleteMedia(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.medias[id]; !ok {
		return ErrNotFound
	}
	delete(m.medias, id)
	return nil
}

// Medias exposes the MediaStore view of m.
func (m *MemoryStore) Medias() MediaStore {
	return memoryMedias{m}
}

type memoryMedias struct{ m *MemoryStore }

func (v memoryMedias) FindByPath(ctx context.Context, path string) (*MediaReference, error) {
	return v.m.FindByPath(ctx, path)
}

func (v memoryMedias) Create(ctx context.Context, path, uploadID string) (*MediaReference, error) {
	return v.m.CreateMedia(ctx, path, uploadID)
}

func (v memoryMedias) Delete(ctx context.Context, id string) error {
	return v.m.DeleteMedia(ctx, id)
}

func cloneUser(u User) *User {
	u.WaitingOn = cloneString(u.WaitingOn)
	return &u
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
