package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps MemoryStore, counting writes and optionally failing
type countingStore struct {
	*MemoryStore
	mu     sync.Mutex
	writes map[string]int
	fail   error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore(), writes: map[string]int{}}
}

func (s *countingStore) SetState(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	s.writes[id]++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.MemoryStore.SetState(ctx, id, blob)
}

func (s *countingStore) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[id]
}

// gatedStore holds every SetState until release is closed
type gatedStore struct {
	*MemoryStore
	started chan string
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemoryStore: NewMemoryStore(), started: make(chan string, 4), release: make(chan struct{})}
}

func (s *gatedStore) SetState(ctx context.Context, id string, blob []byte) error {
	s.started <- id
	<-s.release
	return s.MemoryStore.SetState(ctx, id, blob)
}

func (s *gatedStore) awaitWrite(t *testing.T) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(time.Second):
		t.Fatal("write never started")
	}
}

func fastConfig() PersisterConfig {
	return PersisterConfig{
		Debounce:     20 * time.Millisecond,
		MaxAttempts:  3,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	}
}

func TestPersisterCoalescesBursts(t *testing.T) {
	store := newCountingStore()
	p := NewPersister(store, fastConfig(), nil)
	p.Track("wgt_a")

	for i := 0; i < 10; i++ {
		p.Schedule("wgt_a", []byte(`{"n":`+string(rune('0'+i))+`}`))
	}
	assert.True(t, p.Pending("wgt_a"))

	require.Eventually(t, func() bool { return store.count("wgt_a") == 1 }, time.Second, 5*time.Millisecond)
	got, ok, err := p.Load(context.Background(), "wgt_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"n":9}`, string(got))
	assert.False(t, p.Pending("wgt_a"))
}

func TestPersisterIgnoresUntrackedInstances(t *testing.T) {
	store := newCountingStore()
	p := NewPersister(store, fastConfig(), nil)

	assert.False(t, p.Schedule("wgt_a", []byte(`{}`)))
	assert.False(t, p.Pending("wgt_a"))
	require.NoError(t, p.Flush(context.Background(), "wgt_a"))
	assert.Zero(t, store.count("wgt_a"))
}

func TestPersisterPurgeDropsPendingWrite(t *testing.T) {
	store := newCountingStore()
	p := NewPersister(store, fastConfig(), nil)
	require.NoError(t, store.MemoryStore.SetState(context.Background(), "wgt_a", []byte(`{"old":true}`)))

	p.Track("wgt_a")
	require.True(t, p.Schedule("wgt_a", []byte(`{}`)))
	require.NoError(t, p.Purge(context.Background(), "wgt_a"))
	assert.False(t, p.Pending("wgt_a"))
	assert.False(t, p.Tracked("wgt_a"))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, store.count("wgt_a"))
	_, ok, err := store.GetState(context.Background(), "wgt_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersisterPurgeWaitsForWriteInFlight(t *testing.T) {
	store := newGatedStore()
	p := NewPersister(store, fastConfig(), nil)

	p.Track("wgt_a")
	require.True(t, p.Schedule("wgt_a", []byte(`{"n":1}`)))
	store.awaitWrite(t)

	purged := make(chan error, 1)
	go func() { purged <- p.Purge(context.Background(), "wgt_a") }()
	select {
	case <-purged:
		t.Fatal("purge returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	select {
	case err := <-purged:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("purge never returned")
	}

	_, ok, err := store.GetState(context.Background(), "wgt_a")
	require.NoError(t, err)
	assert.False(t, ok, "state written before the purge must not survive it")
}

func TestPersisterScheduleAfterPurgeIsDropped(t *testing.T) {
	store := newCountingStore()
	p := NewPersister(store, fastConfig(), nil)

	p.Track("wgt_a")
	require.NoError(t, p.Purge(context.Background(), "wgt_a"))
	assert.False(t, p.Schedule("wgt_a", []byte(`{"late":true}`)))
	assert.False(t, p.Pending("wgt_a"))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, store.count("wgt_a"))

	// Adding the instance again admits its writes
	p.Track("wgt_a")
	require.True(t, p.Schedule("wgt_a", []byte(`{"n":2}`)))
	require.Eventually(t, func() bool { return store.count("wgt_a") == 1 }, time.Second, 5*time.Millisecond)
}

func TestPersisterReleaseFlushesThenStopsTracking(t *testing.T) {
	store := newCountingStore()
	cfg := fastConfig()
	cfg.Debounce = time.Hour
	p := NewPersister(store, cfg, nil)

	p.Track("wgt_a")
	require.True(t, p.Schedule("wgt_a", []byte(`{"n":1}`)))
	require.NoError(t, p.Release(context.Background(), "wgt_a"))

	assert.Equal(t, 1, store.count("wgt_a"))
	assert.False(t, p.Tracked("wgt_a"))
	assert.False(t, p.Schedule("wgt_a", []byte(`{"n":2}`)))

	got, ok, err := store.GetState(context.Background(), "wgt_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"n":1}`, string(got))
}

func TestPersisterReleaseKeepsNewestBlob(t *testing.T) {
	store := newGatedStore()
	p := NewPersister(store, fastConfig(), nil)

	p.Track("wgt_a")
	require.True(t, p.Schedule("wgt_a", []byte(`{"n":1}`)))
	store.awaitWrite(t)
	require.True(t, p.Schedule("wgt_a", []byte(`{"n":2}`)))

	released := make(chan error, 1)
	go func() { released <- p.Release(context.Background(), "wgt_a") }()
	close(store.release)

	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("release never returned")
	}

	got, ok, err := store.GetState(context.Background(), "wgt_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"n":2}`, string(got))
}

func TestPersisterForgetsEndedInstances(t *testing.T) {
	p := NewPersister(NewMemoryStore(), fastConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("wgt_%d", i)
		p.Track(id)
		p.Schedule(id, []byte(`{}`))
		if i%2 == 0 {
			require.NoError(t, p.Release(ctx, id))
		} else {
			require.NoError(t, p.Purge(ctx, id))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.live)
	assert.Empty(t, p.pending)
}

func TestPersisterFlushWritesImmediately(t *testing.T) {
	store := newCountingStore()
	cfg := fastConfig()
	cfg.Debounce = time.Hour
	p := NewPersister(store, cfg, nil)
	for _, id := range []string{"wgt_a", "wgt_b", "wgt_c"} {
		p.Track(id)
	}

	p.Schedule("wgt_a", []byte(`{"a":1}`))
	p.Schedule("wgt_b", []byte(`{"b":1}`))

	require.NoError(t, p.Flush(context.Background(), "wgt_a"))
	assert.Equal(t, 1, store.count("wgt_a"))
	assert.Zero(t, store.count("wgt_b"))

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, store.count("wgt_b"))

	assert.False(t, p.Schedule("wgt_c", []byte(`{}`)))
	assert.False(t, p.Pending("wgt_c"))
}

func TestPersisterReportsFailureAfterRetries(t *testing.T) {
	store := newCountingStore()
	store.fail = errors.New("disk full")

	var (
		mu       sync.Mutex
		failures []PersistenceFailure
	)
	p := NewPersister(store, fastConfig(), nil).OnFailure(func(f PersistenceFailure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	})

	p.Track("wgt_a")
	p.Schedule("wgt_a", []byte(`{}`))
	err := p.Flush(context.Background())

	var pf *PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "wgt_a", pf.InstanceID)
	assert.Equal(t, 3, pf.Attempts)
	assert.Equal(t, 3, store.count("wgt_a"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.ErrorContains(t, failures[0].Err, "disk full")
}

func TestPersisterInvalidKeyIsNotRetried(t *testing.T) {
	p := NewPersister(NewMemoryStore(), fastConfig(), nil)
	p.Track("bad/key")
	p.Schedule("bad/key", []byte(`{}`))

	var pf *PersistenceFailure
	require.ErrorAs(t, p.Flush(context.Background()), &pf)
	assert.Equal(t, 1, pf.Attempts)
	assert.ErrorIs(t, pf, ErrInvalidKey)
}
