package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/workers"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

type capturingPool struct {
	tasks []workers.Task
	err   error
}

func (p *capturingPool) Submit(task workers.Task) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func TestDispatchCarriesRequestID(t *testing.T) {
	f := newFixture(t)
	pool := &capturingPool{}
	d := NewDispatcher(pool, f.orch)

	reqCtx, cancel := context.WithCancel(requestcontext.WithRequestID(context.Background(), "req-1"))
	require.NoError(t, d.Dispatch(reqCtx, leadEvent(fullCustomer)))
	cancel()
	require.Len(t, pool.tasks, 1)
	assert.Equal(t, "lead:"+key.String(), pool.tasks[0].Name)

	f.ledger.EXPECT().MarkProcessing(gomock.Any(), key).DoAndReturn(
		func(ctx context.Context, _ models.NaturalKey) error {
			assert.Equal(t, "req-1", requestcontext.RequestID(ctx))
			assert.NoError(t, ctx.Err(), "request cancellation must not reach the task")
			return dErrors.New(dErrors.CodeConflict, "event is not received")
		})
	assert.Error(t, pool.tasks[0].Run(context.Background()))
}

func TestDispatchReportsFullQueue(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(&capturingPool{err: workers.ErrQueueFull}, f.orch)

	err := d.Dispatch(context.Background(), leadEvent(fullCustomer))
	assert.ErrorIs(t, err, workers.ErrQueueFull)
}
