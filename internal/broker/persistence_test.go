package broker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistenceRoundTrip(t *testing.T) {
	b := NewBuilder()
	counter := Register[int](b, "/v1/test/persistent", true, true, true, nil, 1)
	Register[int](b, "/v1/test/ephemeral", true, true, false, nil, 1)
	sealed := b.Seal(nil)

	counter.Set(7)

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, SavePersisted(path, sealed))

	b2 := NewBuilder()
	counter2 := Register[int](b2, "/v1/test/persistent", true, true, true, nil, 1)
	sealed2 := b2.Seal(nil)

	require.NoError(t, LoadPersisted(path, sealed2))
	v, ok := counter2.Get()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestSavePersistedRejectsDuplicatePersistentPath(t *testing.T) {
	b := NewBuilder()
	readSide := Register[int](b, "/v1/test/dup", true, false, true, nil, 1)
	writeSide := Register[int](b, "/v1/test/dup", false, true, true, nil, 1)
	sealed := b.Seal(nil)

	readSide.Set(1)
	writeSide.Set(2)

	path := filepath.Join(t.TempDir(), "state.json")
	err := SavePersisted(path, sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/v1/test/dup")
}

func TestLoadPersistedMissingFileIsNotAnError(t *testing.T) {
	b := NewBuilder()
	sealed := b.Seal(nil)

	err := LoadPersisted(filepath.Join(t.TempDir(), "does-not-exist.json"), sealed)
	assert.NoError(t, err)
}

func TestRunPersistenceSavesOnChange(t *testing.T) {
	b := NewBuilder()
	counter := Register[int](b, "/v1/test/persistent", true, true, true, nil, 1)
	sealed := b.Seal(nil)

	path := filepath.Join(t.TempDir(), "state.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- RunPersistence(ctx, path, sealed) }()

	// Give RunPersistence time to subscribe before we publish.
	time.Sleep(20 * time.Millisecond)
	counter.Set(99)

	require.Eventually(t, func() bool {
		b2 := NewBuilder()
		c2 := Register[int](b2, "/v1/test/persistent", true, true, true, nil, 1)
		s2 := b2.Seal(nil)
		if err := LoadPersisted(path, s2); err != nil {
			return false
		}
		v, ok := c2.Get()
		return ok && v == 99
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
