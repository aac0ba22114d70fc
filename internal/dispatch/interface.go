package dispatch

import (
	"context"

	"github.com/mattjoyce/shopworker/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/shopworker/internal/dispatch Handler,Recorder

// Handler runs one task. A returned error or a panic fails that task only.
type Handler interface {
	Handle(ctx context.Context, t queue.Task) error
}

// Recorder receives the outcome of every task a worker ran.
type Recorder interface {
	Record(ctx context.Context, o queue.Outcome) error
}
