package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/pm/patient-service/internal/apperror"
	"github.com/pm/patient-service/internal/billing"
	"github.com/pm/patient-service/internal/metrics"
	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/storage/memory"
	"github.com/pm/patient-service/internal/types"
)

type mockBilling struct {
	mock.Mock
}

func (m *mockBilling) CreatePatientAccount(ctx context.Context, patientID, name, email string) (billing.Account, error) {
	args := m.Called(ctx, patientID, name, email)
	return args.Get(0).(billing.Account), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PatientCreated(ctx context.Context, p types.Patient) error {
	return m.Called(ctx, p).Error(0)
}

// racyStore reports every email as free so the store's own constraint
// is the one that fires, as when two requests race.
type racyStore struct {
	*memory.Memory
}

func (racyStore) ExistsByEmail(context.Context, string) (bool, error) { return false, nil }

func (racyStore) ExistsByEmailExcludingID(context.Context, string, uuid.UUID) (bool, error) {
	return false, nil
}

type brokenStore struct {
	*memory.Memory
}

func (brokenStore) ListAll(context.Context) ([]types.Patient, error) {
	return nil, errors.New("connection reset")
}

func request(email string) types.PatientRequest {
	return types.PatientRequest{
		Name:           "Jane Doe",
		Email:          email,
		Address:        "1 Main St",
		DateOfBirth:    "1990-04-12",
		RegisteredDate: "2024-01-05",
	}
}

type PatientServiceSuite struct {
	suite.Suite
	store   *memory.Memory
	billing *mockBilling
	metrics *metrics.Metrics
	svc     *PatientService
	ctx     context.Context
}

func TestPatientServiceSuite(t *testing.T) {
	suite.Run(t, new(PatientServiceSuite))
}

func (s *PatientServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.billing = &mockBilling{}
	s.billing.On("CreatePatientAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(billing.Account{AccountID: "acct", Status: "ACTIVE"}, nil).Maybe()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.svc = New(s.store, s.billing, slog.New(slog.NewTextHandler(io.Discard, nil)), WithMetrics(s.metrics))
}

func (s *PatientServiceSuite) create(email string) types.PatientResponse {
	resp, err := s.svc.Create(s.ctx, request(email))
	s.Require().NoError(err)
	return resp
}

func (s *PatientServiceSuite) TestCreateNotifiesBilling() {
	resp := s.create("jane@example.com")

	s.NotEmpty(resp.ID)
	s.Equal("2024-01-05", resp.RegisteredDate)
	s.billing.AssertCalled(s.T(), "CreatePatientAccount", mock.Anything, resp.ID, "Jane Doe", "jane@example.com")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PatientsCreated))
}

func (s *PatientServiceSuite) TestCreateDuplicateEmailIsConflict() {
	first := s.create("dup@example.com")

	_, err := s.svc.Create(s.ctx, request("dup@example.com"))
	s.True(apperror.HasCode(err, apperror.CodeConflict))
	s.Equal("A patient with email dup@example.com already exists", err.Error())

	all, err := s.svc.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(first, all[0])
	s.billing.AssertNumberOfCalls(s.T(), "CreatePatientAccount", 1)
}

func (s *PatientServiceSuite) TestCreateBadDateIsInvalidInput() {
	req := request("date@example.com")
	req.DateOfBirth = "12/04/1990"

	_, err := s.svc.Create(s.ctx, req)
	s.True(apperror.HasCode(err, apperror.CodeInvalidInput))
	s.billing.AssertNotCalled(s.T(), "CreatePatientAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *PatientServiceSuite) TestUpdateUnknownIDIsNotFound() {
	id := uuid.New()
	_, err := s.svc.Update(s.ctx, id, request("x@example.com"))

	s.True(apperror.HasCode(err, apperror.CodeNotFound))
	s.Equal("Patient with ID "+id.String()+" not found", err.Error())
}

func (s *PatientServiceSuite) TestUpdateToTakenEmailIsConflict() {
	a := s.create("a@example.com")
	b := s.create("b@example.com")

	req := request("a@example.com")
	req.Name = "Changed"
	_, err := s.svc.Update(s.ctx, uuid.MustParse(b.ID), req)
	s.True(apperror.HasCode(err, apperror.CodeConflict))

	gotA, err := s.svc.Get(s.ctx, uuid.MustParse(a.ID))
	s.Require().NoError(err)
	gotB, err := s.svc.Get(s.ctx, uuid.MustParse(b.ID))
	s.Require().NoError(err)
	s.Equal(a, gotA)
	s.Equal(b, gotB)
}

func (s *PatientServiceSuite) TestUpdateKeepingOwnEmail() {
	p := s.create("same@example.com")

	req := request("same@example.com")
	req.Address = "2 Side St"
	updated, err := s.svc.Update(s.ctx, uuid.MustParse(p.ID), req)
	s.Require().NoError(err)
	s.Equal("2 Side St", updated.Address)
}

func (s *PatientServiceSuite) TestRegisteredDateSurvivesUpdates() {
	p := s.create("reg@example.com")
	id := uuid.MustParse(p.ID)

	for i, dob := range []string{"1991-01-01", "1992-02-02", "1993-03-03"} {
		req := request("reg@example.com")
		req.DateOfBirth = dob
		req.RegisteredDate = "2099-12-31"
		req.Name = "Name " + string(rune('A'+i))

		updated, err := s.svc.Update(s.ctx, id, req)
		s.Require().NoError(err)
		s.Equal(p.RegisteredDate, updated.RegisteredDate)
		s.Equal(p.ID, updated.ID)
		s.Equal(dob, updated.DateOfBirth)
	}
}

func (s *PatientServiceSuite) TestDelete() {
	p := s.create("gone@example.com")
	id := uuid.MustParse(p.ID)

	s.Require().NoError(s.svc.Delete(s.ctx, id))

	_, err := s.svc.Get(s.ctx, id)
	s.True(apperror.HasCode(err, apperror.CodeNotFound))
	err = s.svc.Delete(s.ctx, id)
	s.True(apperror.HasCode(err, apperror.CodeNotFound))
}

func (s *PatientServiceSuite) TestDeleteUnknownIDIsNotFound() {
	err := s.svc.Delete(s.ctx, uuid.New())
	s.True(apperror.HasCode(err, apperror.CodeNotFound))
}

// Create A, clash with B, move A away, reuse the freed email for C,
// then clash C with A's new email.
func (s *PatientServiceSuite) TestEmailReuseScenario() {
	a := s.create("a@x.com")

	_, err := s.svc.Create(s.ctx, request("a@x.com"))
	s.True(apperror.HasCode(err, apperror.CodeConflict))

	_, err = s.svc.Update(s.ctx, uuid.MustParse(a.ID), request("b@x.com"))
	s.Require().NoError(err)

	c := s.create("a@x.com")

	_, err = s.svc.Update(s.ctx, uuid.MustParse(c.ID), request("b@x.com"))
	s.True(apperror.HasCode(err, apperror.CodeConflict))

	all, err := s.svc.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("b@x.com", all[0].Email)
	s.Equal("a@x.com", all[1].Email)
}

func TestCreateBillingFailureKeepsPatient(t *testing.T) {
	store := memory.New()
	notifier := &mockBilling{}
	notifier.On("CreatePatientAccount", mock.Anything, mock.Anything, "Jane Doe", "jane@example.com").
		Return(billing.Account{}, errors.New("billing unavailable"))
	m := metrics.New(prometheus.NewRegistry())
	svc := New(store, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)), WithMetrics(m))

	_, err := svc.Create(context.Background(), request("jane@example.com"))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInternal, apperror.CodeOf(err))

	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1, "no compensation: the row stays")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillingFailures))
}

func TestCreatePublishesEvent(t *testing.T) {
	notifier := &mockBilling{}
	notifier.On("CreatePatientAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(billing.Account{AccountID: "acct"}, nil)
	pub := &mockPublisher{}
	pub.On("PatientCreated", mock.Anything, mock.MatchedBy(func(p types.Patient) bool {
		return p.Email == "ev@example.com" && p.ID != uuid.Nil
	})).Return(nil)

	svc := New(memory.New(), notifier, nil, WithPublisher(pub))
	_, err := svc.Create(context.Background(), request("ev@example.com"))
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestCreatePublishFailureIsNotReturned(t *testing.T) {
	notifier := &mockBilling{}
	notifier.On("CreatePatientAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(billing.Account{}, nil)
	pub := &mockPublisher{}
	pub.On("PatientCreated", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	m := metrics.New(prometheus.NewRegistry())

	svc := New(memory.New(), notifier, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithPublisher(pub), WithMetrics(m))
	_, err := svc.Create(context.Background(), request("ev@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsFailed))
}

func TestStoreConstraintIsConflict(t *testing.T) {
	store := racyStore{memory.New()}
	notifier := &mockBilling{}
	notifier.On("CreatePatientAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(billing.Account{}, nil)
	svc := New(store, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	_, err := svc.Create(ctx, request("race@example.com"))
	require.NoError(t, err)
	other, err := svc.Create(ctx, request("other@example.com"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, request("race@example.com"))
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	_, err = svc.Update(ctx, uuid.MustParse(other.ID), request("race@example.com"))
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
	notifier.AssertNumberOfCalls(t, "CreatePatientAccount", 2)
}

func TestStoreFailureIsGeneric(t *testing.T) {
	svc := New(brokenStore{memory.New()}, &mockBilling{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.List(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInternal, apperror.CodeOf(err))
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}
