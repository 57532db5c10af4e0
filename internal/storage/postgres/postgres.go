// Package postgres implements storage.Storage on PostgreSQL through the
// pgx database/sql driver. This is the backend the deployed service runs
// against.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pm/patient-service/internal/config"
	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/types"
)

// PostgresStore persists patients in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// seq only orders ListAll; it is not part of the record.
const schema = `
	CREATE TABLE IF NOT EXISTS patients (
		id              UUID PRIMARY KEY,
		name            TEXT NOT NULL,
		email           TEXT NOT NULL UNIQUE,
		address         TEXT NOT NULL,
		date_of_birth   DATE NOT NULL,
		registered_date DATE NOT NULL,
		seq             BIGSERIAL
	)
`

const selectColumns = "SELECT id, name, email, address, date_of_birth, registered_date FROM patients"

// New opens a pool for cfg.URL, verifies it with a ping and ensures the
// patients table exists.
func New(ctx context.Context, cfg config.Storage) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database url not configured")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("create patients table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewFromDB wraps an existing pool. The schema must already exist.
func NewFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]types.Patient, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	patients := make([]types.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return patients, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (types.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Patient{}, storage.ErrNotFound
		}
		return types.Patient{}, fmt.Errorf("find patient by id: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (types.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, selectColumns+" WHERE email = $1", email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Patient{}, storage.ErrNotFound
		}
		return types.Patient{}, fmt.Errorf("find patient by email: %w", err)
	}
	return p, nil
}

// Save inserts when p.ID is nil and updates otherwise. Both statements
// return the stored row, so no second round trip is needed.
func (s *PostgresStore) Save(ctx context.Context, p types.Patient) (types.Patient, error) {
	var row *sql.Row
	if p.ID == uuid.Nil {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO patients (id, name, email, address, date_of_birth, registered_date)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, name, email, address, date_of_birth, registered_date`,
			uuid.New(), p.Name, p.Email, p.Address, p.DateOfBirth, p.RegisteredDate,
		)
	} else {
		row = s.db.QueryRowContext(ctx, `
			UPDATE patients
			SET name = $2, email = $3, address = $4, date_of_birth = $5
			WHERE id = $1
			RETURNING id, name, email, address, date_of_birth, registered_date`,
			p.ID, p.Name, p.Email, p.Address, p.DateOfBirth,
		)
	}

	saved, err := scanPatient(row)
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, sql.ErrNoRows):
		return types.Patient{}, storage.ErrNotFound
	case isUniqueViolation(err):
		return types.Patient{}, storage.ErrDuplicateEmail
	default:
		return types.Patient{}, fmt.Errorf("save patient: %w", err)
	}
}

func (s *PostgresStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM patients WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete patient rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM patients WHERE id = $1)", id)
}

func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM patients WHERE email = $1)", email)
}

func (s *PostgresStore) ExistsByEmailExcludingID(ctx context.Context, email string, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM patients WHERE email = $1 AND id <> $2)", email, id)
}

func (s *PostgresStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("exists query: %w", err)
	}
	return found, nil
}

// Ping checks if the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats returns pool statistics.
func (s *PostgresStore) Stats() sql.DBStats {
	return s.db.Stats()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(sc scanner) (types.Patient, error) {
	var p types.Patient
	if err := sc.Scan(&p.ID, &p.Name, &p.Email, &p.Address, &p.DateOfBirth, &p.RegisteredDate); err != nil {
		return types.Patient{}, err
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
