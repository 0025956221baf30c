// Package async provides a small worker pool for fanning out independent
// read-side computations and collecting their results by name.
package async

import (
	"context"
	"sync"
)

// Task is a named unit of work.
type Task struct {
	Name    string
	Execute func() (interface{}, error)
}

// Result carries one task's outcome.
type Result struct {
	Name string
	Data interface{}
	Err  error
}

// Pool runs tasks across a bounded number of workers.
type Pool struct {
	workerCount int
}

// NewPool creates a pool with the given worker count.
func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs all tasks and returns their results keyed by task name. It
// returns early with partial results when the context is canceled; callers
// must treat missing keys as failures.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	results := make(map[string]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	workers := p.workerCount
	if workers > len(tasks) {
		workers = len(tasks)
	}

	taskCh := make(chan Task)
	resultCh := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				data, err := task.Execute()
				select {
				case resultCh <- Result{Name: task.Name, Data: data, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	for range tasks {
		select {
		case result := <-resultCh:
			results[result.Name] = result
		case <-ctx.Done():
			return results
		}
	}
	return results
}
