// Package worker provides the structured supervision layer used in place
// of fire-and-forget goroutines: every long-running task is a named Worker,
// started and watched by a Runner that cancels the rest on first failure.
package worker

import "context"

// Worker is a long-running background task owned by the supervisor.
type Worker interface {
	// Name identifies the worker for logging.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
