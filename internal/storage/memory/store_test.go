package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage"
	"tempmail/engine/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return NewStore() })
}

func TestMemoryStore_CascadeRemovesAttachments(t *testing.T) {
	store := NewStore()
	now := time.Now()
	d := storagetest.SeedDomain(t, store, "d1", "mail.test")
	storagetest.SeedAddress(t, store, "a1", "alice", d, nil, time.Hour)
	storagetest.SeedAddress(t, store, "a2", "bob", d, nil, time.Hour)
	storagetest.SeedMessage(t, store, "a1", "m1", now, 2)
	storagetest.SeedMessage(t, store, "a1", "m2", now, 1)
	storagetest.SeedMessage(t, store, "a2", "m3", now, 1)
	require.Equal(t, 4, store.AttachmentCount())

	require.NoError(t, store.DeleteAddress(context.Background(), "a1"))
	assert.Equal(t, 1, store.AttachmentCount())
}

func TestMemoryStore_ConcurrentCreateSameAddress(t *testing.T) {
	store := NewStore()
	d := storagetest.SeedDomain(t, store, "d1", "mail.test")
	now := time.Now()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.CreateAddress(context.Background(), &domain.TemporaryAddress{
				ID:        string(rune('a' + i)),
				Address:   "race@mail.test",
				LocalPart: "race",
				DomainID:  d.ID,
				CreatedAt: now,
				ExpiresAt: now.Add(time.Hour),
			}, now)
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAddressTaken)
	}
	assert.Equal(t, 1, succeeded)
}
