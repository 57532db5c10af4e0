// Package service holds the patient business rules: email uniqueness,
// the write-once fields, and the coordination of store, billing and
// event publishing around them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pm/patient-service/internal/apperror"
	"github.com/pm/patient-service/internal/billing"
	"github.com/pm/patient-service/internal/metrics"
	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/types"
)

// BillingNotifier opens a billing account for a new patient.
type BillingNotifier interface {
	CreatePatientAccount(ctx context.Context, patientID, name, email string) (billing.Account, error)
}

// EventPublisher announces new patients to other services.
type EventPublisher interface {
	PatientCreated(ctx context.Context, p types.Patient) error
}

// PatientService implements the patient operations on top of a store.
type PatientService struct {
	store     storage.Storage
	billing   BillingNotifier
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option customises a PatientService.
type Option func(*PatientService)

// WithPublisher enables patient events. Without it nothing is published.
func WithPublisher(p EventPublisher) Option {
	return func(s *PatientService) { s.publisher = p }
}

// WithMetrics records service counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *PatientService) { s.metrics = m }
}

// New builds the service. store and notifier are required.
func New(store storage.Storage, notifier BillingNotifier, logger *slog.Logger, opts ...Option) *PatientService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PatientService{store: store, billing: notifier, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every patient.
func (s *PatientService) List(ctx context.Context) ([]types.PatientResponse, error) {
	patients, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}

	out := make([]types.PatientResponse, 0, len(patients))
	for _, p := range patients {
		out = append(out, types.ToResponse(p))
	}
	return out, nil
}

// Get returns one patient or a NotFound error.
func (s *PatientService) Get(ctx context.Context, id uuid.UUID) (types.PatientResponse, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return types.PatientResponse{}, storeError(err, id, "")
	}
	return types.ToResponse(p), nil
}

// Create saves a new patient and opens their billing account.
//
// The billing call happens after the row is committed. If it fails the
// patient stays saved and the error is returned as a generic failure;
// nothing retries or compensates. Callers that see a 500 here may find
// the patient already listed.
func (s *PatientService) Create(ctx context.Context, req types.PatientRequest) (types.PatientResponse, error) {
	exists, err := s.store.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return types.PatientResponse{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return types.PatientResponse{}, emailConflict(req.Email)
	}

	p, err := fromRequest(req)
	if err != nil {
		return types.PatientResponse{}, err
	}
	if p.RegisteredDate, err = parseField("registeredDate", req.RegisteredDate); err != nil {
		return types.PatientResponse{}, err
	}

	saved, err := s.store.Save(ctx, p)
	if err != nil {
		return types.PatientResponse{}, storeError(err, uuid.Nil, req.Email)
	}
	s.metrics.IncPatientsCreated()
	s.logger.InfoContext(ctx, "patient created", slog.String("patient_id", saved.ID.String()))

	if _, err := s.billing.CreatePatientAccount(ctx, saved.ID.String(), saved.Name, saved.Email); err != nil {
		s.metrics.IncBillingFailures()
		s.logger.ErrorContext(ctx, "billing account creation failed; patient remains saved",
			slog.String("patient_id", saved.ID.String()),
			slog.String("error", err.Error()))
		return types.PatientResponse{}, fmt.Errorf("patient %s saved but billing account not created: %w", saved.ID, err)
	}

	s.publishCreated(ctx, saved)
	return types.ToResponse(saved), nil
}

// Update overwrites name, email, address and date of birth.
// id and registeredDate are never changed.
func (s *PatientService) Update(ctx context.Context, id uuid.UUID, req types.PatientRequest) (types.PatientResponse, error) {
	exists, err := s.store.ExistsByID(ctx, id)
	if err != nil {
		return types.PatientResponse{}, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return types.PatientResponse{}, patientNotFound(id)
	}

	taken, err := s.store.ExistsByEmailExcludingID(ctx, req.Email, id)
	if err != nil {
		return types.PatientResponse{}, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return types.PatientResponse{}, emailConflict(req.Email)
	}

	existing, err := s.store.FindByID(ctx, id)
	if err != nil {
		return types.PatientResponse{}, storeError(err, id, "")
	}

	changes, err := fromRequest(req)
	if err != nil {
		return types.PatientResponse{}, err
	}
	existing.Name = changes.Name
	existing.Email = changes.Email
	existing.Address = changes.Address
	existing.DateOfBirth = changes.DateOfBirth

	updated, err := s.store.Save(ctx, existing)
	if err != nil {
		return types.PatientResponse{}, storeError(err, id, req.Email)
	}
	s.logger.InfoContext(ctx, "patient updated", slog.String("patient_id", id.String()))
	return types.ToResponse(updated), nil
}

// Delete removes a patient permanently.
func (s *PatientService) Delete(ctx context.Context, id uuid.UUID) error {
	exists, err := s.store.ExistsByID(ctx, id)
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return patientNotFound(id)
	}

	if err := s.store.DeleteByID(ctx, id); err != nil {
		return storeError(err, id, "")
	}
	s.logger.InfoContext(ctx, "patient deleted", slog.String("patient_id", id.String()))
	return nil
}

// publishCreated is best effort: the patient and billing account
// already exist, so a broker outage is logged and counted only.
func (s *PatientService) publishCreated(ctx context.Context, p types.Patient) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PatientCreated(ctx, p); err != nil {
		s.metrics.IncEventsFailed()
		s.logger.WarnContext(ctx, "patient event not published",
			slog.String("patient_id", p.ID.String()),
			slog.String("error", err.Error()))
	}
}

// storeError translates storage sentinels into the error taxonomy.
// ErrDuplicateEmail surfaces here when a concurrent writer took the
// email between the pre-check and the write.
func storeError(err error, id uuid.UUID, email string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return patientNotFound(id)
	case errors.Is(err, storage.ErrDuplicateEmail):
		return emailConflict(email)
	default:
		return fmt.Errorf("patient store: %w", err)
	}
}

func fromRequest(req types.PatientRequest) (types.Patient, error) {
	dob, err := parseField("dateOfBirth", req.DateOfBirth)
	if err != nil {
		return types.Patient{}, err
	}
	return types.Patient{
		Name:        req.Name,
		Email:       req.Email,
		Address:     req.Address,
		DateOfBirth: dob,
	}, nil
}

func parseField(field, value string) (time.Time, error) {
	t, err := types.ParseDate(value)
	if err != nil {
		return time.Time{}, apperror.Wrap(err, apperror.CodeInvalidInput,
			fmt.Sprintf("field %s must be a date in YYYY-MM-DD format", field))
	}
	return t, nil
}

func patientNotFound(id uuid.UUID) error {
	return apperror.New(apperror.CodeNotFound, fmt.Sprintf("Patient with ID %s not found", id))
}

func emailConflict(email string) error {
	return apperror.New(apperror.CodeConflict, fmt.Sprintf("A patient with email %s already exists", email))
}
