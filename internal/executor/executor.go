// Package executor is the single concurrency-limiting device of the
// pipeline: every download or upload fan-out goes through RunAll or
// RunAllSafe, nothing else imposes a cap.
package executor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const defaultLimit = 5

// Task is one unit of transfer work.
type Task[T any] func(ctx context.Context) (T, error)

// Result is one settled task in a Safe batch.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// RunAll runs tasks with at most limit in flight and returns results in
// input order regardless of completion order. It is the strict variant: the
// queue is always drained, no sibling is aborted, and the first task error is
// returned to the caller only after every admitted task has settled.
func RunAll[T any](ctx context.Context, tasks []Task[T], limit int) ([]T, error) {
	if limit < 1 {
		limit = defaultLimit
	}

	results := make([]T, len(tasks))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, task := range tasks {
		i, task := i, task

		g.Go(func() error {
			v, err := task(ctx)
			if err != nil {
				return err
			}

			results[i] = v

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	return results, nil
}

// RunAllSafe runs tasks with at most limit in flight, catching every task
// failure so the batch always settles fully. A failed task leaves the zero
// value and its error at that task's index; callers tally partial success
// instead of aborting the batch.
func RunAllSafe[T any](ctx context.Context, tasks []Task[T], limit int, log *slog.Logger) []Result[T] {
	if limit < 1 {
		limit = defaultLimit
	}

	results := make([]Result[T], len(tasks))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, task := range tasks {
		i, task := i, task

		g.Go(func() error {
			v, err := task(ctx)
			if err != nil && log != nil {
				log.Error("Task failed", slog.Int("index", i), slog.Any("error", err))
			}

			results[i] = Result[T]{Value: v, Err: err}

			return nil
		})
	}

	// Tasks never return an error through the group in safe mode.
	g.Wait()

	return results
}
