package bulkhead

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkheadRejectsBeyondCapacity(t *testing.T) {
	b := New("db", 2)

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	for i := 0; i < 2; i++ {
		go b.Execute(func() error {
			started.Done()
			<-release
			return nil
		})
	}
	started.Wait()

	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrFull)

	status := b.Status()
	assert.Equal(t, 2, status.InFlight)
	assert.Equal(t, uint64(1), status.Rejected)

	close(release)
}

func TestBulkheadReleasesSlots(t *testing.T) {
	b := New("db", 1)

	require.NoError(t, b.Execute(func() error { return nil }))
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, 0, b.Status().InFlight)
}

func TestBulkheadPropagatesError(t *testing.T) {
	b := New("db", 1)

	err := b.Execute(func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, b.Status().InFlight, "slot released on error")
}

func TestRegistryReusesByName(t *testing.T) {
	reg := NewRegistry(4)
	assert.Same(t, reg.Get("db"), reg.Get("db"))
	assert.NotSame(t, reg.Get("db"), reg.Get("email"))
}

func TestRegistrySnapshot(t *testing.T) {
	reg := NewRegistry(4)
	reg.Get("email")
	reg.Get("db")

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "db", snapshot[0].Name)
	assert.Equal(t, 4, snapshot[0].MaxConcurrent)
}
