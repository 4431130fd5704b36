package pipeline

import (
	"context"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/workers"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

// Submitter is the worker pool intake.
type Submitter interface {
	Submit(task workers.Task) error
}

// Dispatcher queues accepted events on the worker pool. It satisfies the
// ledger service's dispatcher contract.
type Dispatcher struct {
	pool         Submitter
	orchestrator *Orchestrator
}

func NewDispatcher(pool Submitter, orchestrator *Orchestrator) *Dispatcher {
	return &Dispatcher{pool: pool, orchestrator: orchestrator}
}

// Dispatch returns once the event is queued. The task keeps the request id
// but not the request's cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.Event) error {
	reqID := requestcontext.RequestID(ctx)
	return d.pool.Submit(workers.Task{
		Name: "lead:" + event.Key.String(),
		Run: func(ctx context.Context) error {
			if reqID != "" {
				ctx = requestcontext.WithRequestID(ctx, reqID)
			}
			_, err := d.orchestrator.Process(ctx, event)
			return err
		},
	})
}
