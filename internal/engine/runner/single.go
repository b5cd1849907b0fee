package runner

import (
	"context"

	"github.com/wavs-network/operator/internal/logging"
)

// SingleRunner processes jobs one at a time on a dedicated goroutine,
// the equivalent of a single OS thread draining the input channel with a
// blocking receive.
type SingleRunner struct {
	engine Invoker
	logger *logging.Logger
}

func NewSingle(engine Invoker, logger *logging.Logger) *SingleRunner {
	return &SingleRunner{engine: engine, logger: logger}
}

func (r *SingleRunner) Start(ctx context.Context, jobs <-chan Job, results chan<- Result) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-jobs:
				if !ok {
					return
				}
				res := invoke(ctx, r.engine, r.logger, job)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
