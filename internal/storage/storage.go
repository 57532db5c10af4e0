// Package storage defines the Storage interface, the contract every
// database backend must satisfy to hold patient records.
//
// The service layer depends only on this interface. Switching databases
// means implementing it for the new backend and selecting it in main.go;
// tests pass the in-memory backend instead of a real database.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pm/patient-service/internal/types"
)

var (
	// ErrNotFound is returned when no row matches the requested key.
	ErrNotFound = errors.New("patient not found")

	// ErrDuplicateEmail is returned when a write would break the unique
	// email constraint. Backends raise it from their own constraint, so
	// it also covers two writers racing past the service's pre-check.
	ErrDuplicateEmail = errors.New("email already exists")
)

// Storage is the patient store contract.
type Storage interface {
	// ListAll returns every patient in insertion order.
	// Returns an empty slice (not nil) if there are none.
	ListAll(ctx context.Context) ([]types.Patient, error)

	// FindByID returns ErrNotFound if no patient has the id.
	FindByID(ctx context.Context, id uuid.UUID) (types.Patient, error)

	// FindByEmail returns ErrNotFound if no patient has the email.
	FindByEmail(ctx context.Context, email string) (types.Patient, error)

	// Save inserts p when p.ID is uuid.Nil, assigning a fresh id.
	// Otherwise it overwrites name, email, address and dateOfBirth of the
	// existing row; id and registeredDate are never rewritten.
	// Returns the record as stored.
	Save(ctx context.Context, p types.Patient) (types.Patient, error)

	// DeleteByID removes a patient permanently.
	// Returns ErrNotFound if no patient has the id.
	DeleteByID(ctx context.Context, id uuid.UUID) error

	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// ExistsByEmailExcludingID reports whether a patient other than id
	// already holds email.
	ExistsByEmailExcludingID(ctx context.Context, email string, id uuid.UUID) (bool, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
