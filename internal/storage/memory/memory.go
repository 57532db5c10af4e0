// Package memory provides an in-process implementation of
// storage.Storage. It is selected with storage.driver=memory for local
// runs and backs the service and handler tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/types"
)

// Memory keeps patients in a map guarded by a single RWMutex.
// order records insertion order so ListAll is stable.
type Memory struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]types.Patient
	order    []uuid.UUID
}

// New returns an empty store.
func New() *Memory {
	return &Memory{patients: make(map[uuid.UUID]types.Patient)}
}

func (m *Memory) ListAll(_ context.Context) ([]types.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	patients := make([]types.Patient, 0, len(m.order))
	for _, id := range m.order {
		patients = append(patients, m.patients[id])
	}
	return patients, nil
}

func (m *Memory) FindByID(_ context.Context, id uuid.UUID) (types.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.patients[id]
	if !ok {
		return types.Patient{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *Memory) FindByEmail(_ context.Context, email string) (types.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patients {
		if p.Email == email {
			return p, nil
		}
	}
	return types.Patient{}, storage.ErrNotFound
}

func (m *Memory) Save(_ context.Context, p types.Patient) (types.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same check the SQL backends get from their unique index.
	if m.emailTakenLocked(p.Email, p.ID) {
		return types.Patient{}, storage.ErrDuplicateEmail
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
		m.patients[p.ID] = p
		m.order = append(m.order, p.ID)
		return p, nil
	}

	existing, ok := m.patients[p.ID]
	if !ok {
		return types.Patient{}, storage.ErrNotFound
	}
	existing.Name = p.Name
	existing.Email = p.Email
	existing.Address = p.Address
	existing.DateOfBirth = p.DateOfBirth
	m.patients[p.ID] = existing
	return existing, nil
}

func (m *Memory) DeleteByID(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.patients[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.patients, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) ExistsByID(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.patients[id]
	return ok, nil
}

func (m *Memory) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.emailTakenLocked(email, uuid.Nil), nil
}

func (m *Memory) ExistsByEmailExcludingID(_ context.Context, email string, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.emailTakenLocked(email, id), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// emailTakenLocked reports whether a patient other than except holds
// email. Callers must hold m.mu.
func (m *Memory) emailTakenLocked(email string, except uuid.UUID) bool {
	for id, p := range m.patients {
		if id != except && p.Email == email {
			return true
		}
	}
	return false
}
