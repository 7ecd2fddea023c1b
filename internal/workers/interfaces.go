// Package workers runs the background jobs of the trust engine: the
// startup cleanup, the periodic device discovery and the backup writer.
package workers

import "context"

// Worker is a background job. Run either finishes its work before
// returning or spawns goroutines that stop when ctx is cancelled.
type Worker interface {
	Run(ctx context.Context)
}

// LongRunning is a [Worker] whose goroutines outlive Run. Done is closed
// once they have stopped.
type LongRunning interface {
	Worker
	Done() <-chan struct{}
}
