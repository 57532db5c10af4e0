package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/storage/storagetest"
)

func TestMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return New() })
}

func TestConcurrentInsertsKeepEmailUnique(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Save(ctx, storagetest.Patient("race@example.com"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch err {
		case nil:
			ok++
		case storage.ErrDuplicateEmail:
			dup++
		default:
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, dup)
}
