package dispatch

import (
	"runtime"

	"github.com/panjf2000/ants/v2"
)

// Pool bounds the number of goroutines used for asynchronous command
// continuations (NBLPOP delivery, including redirection; NBLPOP is the only
// submitter) so a burst of clients cannot spawn one goroutine per pending
// continuation, mirroring the worker pool the ledis reference attaches to
// its DistributedMap.
type Pool struct {
	inner *ants.Pool
}

// NewPool builds a worker pool of size goroutines. A non-positive size falls
// back to hardware parallelism times a small multiplier, same sizing rule as
// the reference implementation's ants.NewPool(runtime.NumCPU() * 4).
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = runtime.NumCPU() * 4
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &Pool{inner: p}, nil
}

// Submit schedules fn to run on a pooled goroutine. It returns an error only
// if the pool has been released or is at capacity with no room to queue.
func (p *Pool) Submit(fn func()) error {
	return p.inner.Submit(fn)
}

// Running reports the number of goroutines currently executing pool work.
func (p *Pool) Running() int { return p.inner.Running() }

// Release closes the pool and frees its idle goroutines; tasks already
// running are not waited for. Call once, at server shutdown.
func (p *Pool) Release() { p.inner.Release() }
