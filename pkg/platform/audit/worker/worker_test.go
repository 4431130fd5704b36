package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit/store/memory"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("sink down") }

func TestWorkerDrainsUntilClosed(t *testing.T) {
	store := memory.NewInMemoryStore()
	inbox := make(chan audit.Event, 3)
	inbox <- audit.Event{Action: audit.ActionLeadReceived}
	inbox <- audit.Event{Action: audit.ActionLeadDuplicate}
	close(inbox)

	err := NewWorker(store, inbox, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.List(), 2)
}

func TestWorkerReportsFailuresAndContinues(t *testing.T) {
	inbox := make(chan audit.Event, 2)
	inbox <- audit.Event{Action: audit.ActionLeadReceived}
	inbox <- audit.Event{Action: audit.ActionLeadFailed}
	close(inbox)

	var failed []audit.Action
	err := NewWorker(failingStore{}, inbox, func(e audit.Event, _ error) {
		failed = append(failed, e.Action)
	}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []audit.Action{audit.ActionLeadReceived, audit.ActionLeadFailed}, failed)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewWorker(memory.NewInMemoryStore(), make(chan audit.Event), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
