package dehusk

import "context"

// Op is a dehusk running on its own goroutine.
type Op struct {
	done chan struct{}
	res  Result
	err  error
}

// Start runs the same algorithm as Run in the background. Cancelling ctx
// stops the operation only while it is still traversing or before the
// detach rename; a swap that has begun always finishes.
func (d *Dehusker) Start(ctx context.Context, path string, depth int) *Op {
	op := &Op{done: make(chan struct{})}
	go func() {
		defer close(op.done)
		op.res, op.err = d.Run(ctx, path, depth)
	}()
	return op
}

// Done is closed once the operation has finished.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation has finished and returns its outcome.
func (o *Op) Wait() (Result, error) {
	<-o.done
	return o.res, o.err
}
