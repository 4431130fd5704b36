package publisher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit/store/memory"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

func closePublisher(t *testing.T, pub *Publisher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pub.Close(ctx))
}

func TestPublisher_DeliversAsync(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithBuffer(10))

	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	require.NoError(t, pub.Emit(ctx, audit.Event{Action: audit.ActionLeadReceived, LeadID: "L1"}))
	closePublisher(t, pub)

	events := store.ListByLead("L1")
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_DrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionLeadReceived}))
	}
	closePublisher(t, pub)

	assert.Len(t, store.List(), 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := New(memory.NewInMemoryStore())
	closePublisher(t, pub)
	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionLeadReceived})
	assert.ErrorIs(t, err, ErrClosed)
}

// blockingStore holds the worker so the buffer can be filled deterministically.
type blockingStore struct {
	release chan struct{}
	count   atomic.Int32
}

func (b *blockingStore) Append(context.Context, audit.Event) error {
	<-b.release
	b.count.Add(1)
	return nil
}

func TestPublisher_BufferFullDropsEvent(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	pub := New(store, WithBuffer(1))

	var full int
	for range 5 {
		if errors.Is(pub.Emit(context.Background(), audit.Event{Action: audit.ActionLeadReceived}), ErrBufferFull) {
			full++
		}
	}
	close(store.release)
	closePublisher(t, pub)

	assert.GreaterOrEqual(t, full, 3, "at most one in flight and one buffered")
	assert.Equal(t, int32(5-full), store.count.Load())
}

type flakyStore struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyStore) Append(context.Context, audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("sink down")
}

func TestPublisher_CircuitOpensOnFailures(t *testing.T) {
	store := &flakyStore{}
	cb := NewCircuitBreaker(2, time.Hour)
	pub := New(store, WithCircuitBreaker(cb), WithBuffer(10))

	for range 6 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionLeadReceived}))
	}
	closePublisher(t, pub)

	assert.True(t, cb.IsOpen())
	assert.Equal(t, 2, store.calls, "no attempts once the circuit is open")
}

func TestPublisher_SamplerDropsOperationsOnly(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithSampler(NewSampler(0)))

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionLeadDuplicate}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionCacheIntegrityFailed}))
	closePublisher(t, pub)

	assert.Equal(t, []audit.Action{audit.ActionCacheIntegrityFailed}, store.Actions())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.RecordFailure())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow(), "half-open lets one attempt through")
	assert.True(t, cb.RecordFailure(), "a failed probe re-opens")

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
