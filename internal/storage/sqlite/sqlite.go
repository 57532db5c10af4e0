// Package sqlite provides a SQLite-backed implementation of the
// storage.Storage interface using Go's standard database/sql package.
//
// SQLite keeps everything in a single file on disk, which makes it the
// default for local development. The deployed service uses the postgres
// backend instead.
//
// Importing go-sqlite3 registers the "sqlite3" driver with database/sql
// and provides the error codes used to detect unique violations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/pm/patient-service/internal/config"
	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/types"
)

// SQLite is the concrete implementation of storage.Storage.
type SQLite struct {
	Db *sql.DB
}

// schema is idempotent, safe to run on every startup.
//
// Dates are stored as TEXT in types.DateLayout; the driver would
// otherwise guess a time format from the declared column type. The
// unique index is what finally guards email uniqueness when two
// requests pass the service's pre-check at the same time.
const schema = `
	CREATE TABLE IF NOT EXISTS patients (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		email           TEXT NOT NULL,
		address         TEXT NOT NULL,
		date_of_birth   TEXT NOT NULL,
		registered_date TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS patients_email_key ON patients (email);
`

// New opens the SQLite database at cfg.Path, creates the patients
// table if it does not already exist, and returns a ready-to-use store.
func New(cfg config.Storage) (*SQLite, error) {
	// sql.Open does NOT open a real connection yet; it only validates
	// the driver name and DSN.
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: open db: %w", err)
	}

	// SQLite allows a single writer. One connection serialises writes
	// inside database/sql instead of surfacing "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.New: create table: %w", err)
	}

	return &SQLite{Db: db}, nil
}

const selectColumns = "SELECT id, name, email, address, date_of_birth, registered_date FROM patients"

// ─────────────────────────────────────────────────────────────────────────────
// ListAll returns every patient, oldest insert first. rowid is SQLite's
// implicit insertion counter.
// ─────────────────────────────────────────────────────────────────────────────
func (s *SQLite) ListAll(ctx context.Context) ([]types.Patient, error) {
	rows, err := s.Db.QueryContext(ctx, selectColumns+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("ListAll: query: %w", err)
	}
	defer rows.Close()

	patients := make([]types.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAll: scan row: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAll: rows iteration: %w", err)
	}

	return patients, nil
}

func (s *SQLite) FindByID(ctx context.Context, id uuid.UUID) (types.Patient, error) {
	row := s.Db.QueryRowContext(ctx, selectColumns+" WHERE id = ? LIMIT 1", id.String())
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Patient{}, storage.ErrNotFound
		}
		return types.Patient{}, fmt.Errorf("FindByID: scan: %w", err)
	}
	return p, nil
}

func (s *SQLite) FindByEmail(ctx context.Context, email string) (types.Patient, error) {
	row := s.Db.QueryRowContext(ctx, selectColumns+" WHERE email = ? LIMIT 1", email)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Patient{}, storage.ErrNotFound
		}
		return types.Patient{}, fmt.Errorf("FindByEmail: scan: %w", err)
	}
	return p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Save inserts or updates. Placeholders (?) keep user input out of the
// SQL text; the driver sends query and values separately.
// ─────────────────────────────────────────────────────────────────────────────
func (s *SQLite) Save(ctx context.Context, p types.Patient) (types.Patient, error) {
	if p.ID == uuid.Nil {
		return s.insert(ctx, p)
	}
	return s.update(ctx, p)
}

func (s *SQLite) insert(ctx context.Context, p types.Patient) (types.Patient, error) {
	stmt, err := s.Db.PrepareContext(ctx,
		`INSERT INTO patients (id, name, email, address, date_of_birth, registered_date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return types.Patient{}, fmt.Errorf("Save: prepare insert: %w", err)
	}
	defer stmt.Close()

	p.ID = uuid.New()
	_, err = stmt.ExecContext(ctx,
		p.ID.String(), p.Name, p.Email, p.Address,
		p.DateOfBirth.Format(types.DateLayout),
		p.RegisteredDate.Format(types.DateLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Patient{}, storage.ErrDuplicateEmail
		}
		return types.Patient{}, fmt.Errorf("Save: insert: %w", err)
	}

	return s.FindByID(ctx, p.ID)
}

// update never touches registered_date: it is write-once.
func (s *SQLite) update(ctx context.Context, p types.Patient) (types.Patient, error) {
	stmt, err := s.Db.PrepareContext(ctx,
		"UPDATE patients SET name = ?, email = ?, address = ?, date_of_birth = ? WHERE id = ?",
	)
	if err != nil {
		return types.Patient{}, fmt.Errorf("Save: prepare update: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx,
		p.Name, p.Email, p.Address, p.DateOfBirth.Format(types.DateLayout), p.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Patient{}, storage.ErrDuplicateEmail
		}
		return types.Patient{}, fmt.Errorf("Save: update: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return types.Patient{}, fmt.Errorf("Save: rows affected: %w", err)
	} else if n == 0 {
		return types.Patient{}, storage.ErrNotFound
	}

	// Re-fetch so the caller gets exactly what is stored.
	return s.FindByID(ctx, p.ID)
}

func (s *SQLite) DeleteByID(ctx context.Context, id uuid.UUID) error {
	res, err := s.Db.ExecContext(ctx, "DELETE FROM patients WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("DeleteByID: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeleteByID: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLite) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM patients WHERE id = ?)", id.String())
}

func (s *SQLite) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM patients WHERE email = ?)", email)
}

func (s *SQLite) ExistsByEmailExcludingID(ctx context.Context, email string, id uuid.UUID) (bool, error) {
	return s.exists(ctx,
		"SELECT EXISTS(SELECT 1 FROM patients WHERE email = ? AND id <> ?)", email, id.String())
}

func (s *SQLite) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := s.Db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("exists: scan: %w", err)
	}
	return found, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.Db.Close()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanPatient reads one row. Column order must match selectColumns.
func scanPatient(sc scanner) (types.Patient, error) {
	var (
		p          types.Patient
		id         string
		dob, regAt string
	)
	if err := sc.Scan(&id, &p.Name, &p.Email, &p.Address, &dob, &regAt); err != nil {
		return types.Patient{}, err
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return types.Patient{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	if p.DateOfBirth, err = types.ParseDate(dob); err != nil {
		return types.Patient{}, fmt.Errorf("parse date_of_birth %q: %w", dob, err)
	}
	if p.RegisteredDate, err = types.ParseDate(regAt); err != nil {
		return types.Patient{}, fmt.Errorf("parse registered_date %q: %w", regAt, err)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
