package runner

import (
	"context"
	"sync"

	"github.com/wavs-network/operator/internal/logging"
)

// MultiRunner fans jobs out across a fixed-size worker pool, the goroutine
// analogue of a rayon thread pool sized by thread_count: Go has no rayon
// equivalent, so a bounded goroutine pool reading off a shared channel
// plays the same role.
type MultiRunner struct {
	engine      Invoker
	logger      *logging.Logger
	workerCount int
}

func NewMulti(engine Invoker, logger *logging.Logger, workerCount int) *MultiRunner {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &MultiRunner{engine: engine, logger: logger, workerCount: workerCount}
}

func (r *MultiRunner) Start(ctx context.Context, jobs <-chan Job, results chan<- Result) {
	var wg sync.WaitGroup
	for i := 0; i < r.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
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
	go func() {
		<-ctx.Done()
		wg.Wait()
	}()
}
