// Package storagetest holds the behavioural suite every storage.Storage
// backend must pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/types"
)

// Factory returns an empty store. Run calls it once per subtest.
type Factory func(t *testing.T) storage.Storage

// Run executes the suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("save assigns id and keeps fields", func(t *testing.T) { testInsert(t, newStore(t)) })
	t.Run("update leaves id and registered date", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("update of missing row", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("duplicate email on insert", func(t *testing.T) { testDuplicateInsert(t, newStore(t)) })
	t.Run("duplicate email on update", func(t *testing.T) { testDuplicateUpdate(t, newStore(t)) })
	t.Run("list in insertion order", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("find by email", func(t *testing.T) { testFindByEmail(t, newStore(t)) })
	t.Run("exists checks", func(t *testing.T) { testExists(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
}

// Patient returns a valid, unsaved patient with the given email.
func Patient(email string) types.Patient {
	return types.Patient{
		Name:           "Test Patient",
		Email:          email,
		Address:        "221B Baker Street",
		DateOfBirth:    time.Date(1985, time.March, 14, 0, 0, 0, 0, time.UTC),
		RegisteredDate: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func assertSameDate(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Equal(t, want.Format(types.DateLayout), got.Format(types.DateLayout))
}

func testInsert(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	in := Patient("insert@example.com")

	saved, err := s.Save(ctx, in)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, saved.ID)

	got, err := s.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Email, got.Email)
	assert.Equal(t, in.Address, got.Address)
	assertSameDate(t, in.DateOfBirth, got.DateOfBirth)
	assertSameDate(t, in.RegisteredDate, got.RegisteredDate)
}

func testUpdate(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	saved, err := s.Save(ctx, Patient("before@example.com"))
	require.NoError(t, err)

	changed := saved
	changed.Name = "Renamed"
	changed.Email = "after@example.com"
	changed.Address = "10 Downing Street"
	changed.DateOfBirth = time.Date(1990, time.July, 2, 0, 0, 0, 0, time.UTC)
	changed.RegisteredDate = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)

	updated, err := s.Save(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)

	got, err := s.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "after@example.com", got.Email)
	assert.Equal(t, "10 Downing Street", got.Address)
	assertSameDate(t, changed.DateOfBirth, got.DateOfBirth)
	assertSameDate(t, saved.RegisteredDate, got.RegisteredDate)
}

func testUpdateMissing(t *testing.T, s storage.Storage) {
	p := Patient("ghost@example.com")
	p.ID = uuid.New()

	_, err := s.Save(context.Background(), p)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDuplicateInsert(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_, err := s.Save(ctx, Patient("dup@example.com"))
	require.NoError(t, err)

	_, err = s.Save(ctx, Patient("dup@example.com"))
	assert.ErrorIs(t, err, storage.ErrDuplicateEmail)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testDuplicateUpdate(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a, err := s.Save(ctx, Patient("a@example.com"))
	require.NoError(t, err)
	b, err := s.Save(ctx, Patient("b@example.com"))
	require.NoError(t, err)

	b.Email = a.Email
	_, err = s.Save(ctx, b)
	assert.ErrorIs(t, err, storage.ErrDuplicateEmail)

	got, err := s.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", got.Email)
}

func testList(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	empty, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	var want []uuid.UUID
	for _, email := range []string{"one@example.com", "two@example.com", "three@example.com"} {
		p, err := s.Save(ctx, Patient(email))
		require.NoError(t, err)
		want = append(want, p.ID)
	}

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	got := make([]uuid.UUID, 0, len(all))
	for _, p := range all {
		got = append(got, p.ID)
	}
	assert.Equal(t, want, got)
}

func testFindByEmail(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	saved, err := s.Save(ctx, Patient("lookup@example.com"))
	require.NoError(t, err)

	got, err := s.FindByEmail(ctx, "lookup@example.com")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)

	_, err = s.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testExists(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	saved, err := s.Save(ctx, Patient("exists@example.com"))
	require.NoError(t, err)

	ok, err := s.ExistsByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ExistsByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ExistsByEmail(ctx, "exists@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ExistsByEmailExcludingID(ctx, "exists@example.com", saved.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a patient's own email is not a conflict")

	ok, err = s.ExistsByEmailExcludingID(ctx, "exists@example.com", uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}

func testDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	saved, err := s.Save(ctx, Patient("delete@example.com"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteByID(ctx, saved.ID))

	_, err = s.FindByID(ctx, saved.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteByID(ctx, saved.ID), storage.ErrNotFound)

	// The email is free again once the row is gone.
	_, err = s.Save(ctx, Patient("delete@example.com"))
	assert.NoError(t, err)
}
