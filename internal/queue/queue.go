// Package queue carries send jobs between the dispatcher and the
// delivery workers over SQS.
package queue

import (
	"context"

	"github.com/sentinel-hq/sentinel/internal/domain"
)

// EnqueueResult summarizes one Enqueue call. A partially failed batch
// contributes to both Enqueued and Failed.
type EnqueueResult struct {
	Enqueued int
	Failed   int
	Batches  int
}

// SendQueue accepts send jobs for asynchronous delivery.
type SendQueue interface {
	Enqueue(ctx context.Context, jobs []domain.SendJob) (EnqueueResult, error)
}

// JobHandler processes one dequeued send job. A nil return acknowledges
// the job; an error leaves it on the queue for redelivery.
type JobHandler interface {
	Handle(ctx context.Context, job domain.SendJob) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job domain.SendJob) error

func (f JobHandlerFunc) Handle(ctx context.Context, job domain.SendJob) error {
	return f(ctx, job)
}
