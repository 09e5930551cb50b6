package loop

import (
	"context"
	"sync"

	"testsmith/pkg/logx"
)

// BatchResult pairs one request with its outcome and trace.
type BatchResult struct {
	Request  GenerationRequest
	Outcome  Outcome
	Attempts []Attempt
	Err      error // caller-misuse error from Run, nil otherwise
}

// RunBatch processes requests on a bounded pool of workers. Each worker gets
// its own Controller from newController, so no loop state is shared; the
// rate limiter and daily budget below the shared client factory throttle
// aggregate provider usage. Results are returned in request order.
func RunBatch(ctx context.Context, requests []GenerationRequest, workers int, newController func() (*Controller, error)) []BatchResult {
	if workers < 1 {
		workers = 1
	}
	if workers > len(requests) {
		workers = len(requests)
	}

	logger := logx.NewLogger("batch")
	results := make([]BatchResult, len(requests))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			controller, err := newController()
			if err != nil {
				// Mark this worker's share of jobs failed rather than
				// stalling the pool.
				for idx := range jobs {
					results[idx] = BatchResult{Request: requests[idx], Err: err}
				}
				return
			}

			for idx := range jobs {
				req := requests[idx]
				outcome, attempts, runErr := controller.Run(ctx, req)
				results[idx] = BatchResult{
					Request:  req,
					Outcome:  outcome,
					Attempts: attempts,
					Err:      runErr,
				}
				if runErr != nil {
					logger.Error("request %s failed: %v", req.PUTID, runErr)
				} else {
					logger.Info("request %s: %s after %d iterations", req.PUTID, outcome.Kind, outcome.Iterations)
				}
			}
		}()
	}

	for idx := range requests {
		if ctx.Err() != nil {
			// Remaining requests are reported as canceled.
			for rest := idx; rest < len(requests); rest++ {
				results[rest] = BatchResult{Request: requests[rest], Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
		select {
		case jobs <- idx:
		case <-ctx.Done():
			for rest := idx; rest < len(requests); rest++ {
				results[rest] = BatchResult{Request: requests[rest], Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
