package bnn

import "sync"

// runIndexed fans work out over at most maxWorkers goroutines and writes each
// result back at its input index, so the output order is independent of the
// degree of parallelism.
func runIndexed[In any, Out any](inputs []In, maxWorkers int, worker func(i int, in In) Out) []Out {
	results := make([]Out, len(inputs))

	workers := min(len(inputs), maxWorkers)
	if workers < 1 {
		workers = 1
	}

	next := make(chan int, len(inputs))
	for i := range inputs {
		next <- i
	}
	close(next)

	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				results[i] = worker(i, inputs[i])
			}
		}()
	}
	wg.Wait()

	return results
}
