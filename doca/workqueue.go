package doca

import (
	"context"

	"k8s.io/klog/v2"
)

// Event is the completion record of one submitted job, produced by a
// successful poll. It is a plain value and may be copied freely.
type Event struct {
	// Result is the engine-defined result code of the completed job.
	Result ErrorCode
}

// Job is implemented by submittable job descriptors (see DMAJob).
type Job interface {
	// request returns the wire form handed to the backend. It fails when
	// the job is not in a submittable state.
	request() (JobRequest, error)
	// markSubmitted consumes the job: jobs are single-use.
	markSubmitted()
}

// WorkQueue is one logical thread-of-control's submission and completion
// channel, bound to exactly one Context. It is explicitly not thread-safe:
// a queue must not be shared across goroutines without external
// synchronization. Multiple queues may be attached to the same context,
// each polled independently.
//
// The queue holds a reference to its context, so the destruction order
// queue -> context -> devices -> engine follows from the ownership graph;
// Destroy detaches the queue from the context first.
type WorkQueue struct {
	handle WorkQueueHandle
	depth  uint32
	ctx    *Context
}

// NewWorkQueue creates a queue with the given maximum number of outstanding
// jobs and attaches it to ctx. When attaching fails the queue object is
// destroyed before the error is returned, so no dangling unattached queue
// survives.
func NewWorkQueue(ctx *Context, depth uint32) (*WorkQueue, error) {
	if depth == 0 {
		return nil, newErrorf(ErrorInvalidValue, "work queue depth must be positive")
	}
	h, err := ctx.backend.NewWorkQueue(depth)
	if err != nil {
		return nil, err
	}
	if err := ctx.handle.AddWorkQueue(h); err != nil {
		destroyErr := h.Destroy()
		if destroyErr != nil {
			klog.Errorf("destroying work queue after failed attach: %v", destroyErr)
		}
		return nil, err
	}
	return &WorkQueue{handle: h, depth: depth, ctx: ctx}, nil
}

// Depth returns the maximum number of outstanding jobs.
func (q *WorkQueue) Depth() uint32 {
	return q.depth
}

// Submit enqueues a pre-built job. The job keeps ownership of its buffers
// until it completes or is dropped. Submitting more jobs than the queue
// depth allows fails with the backend's overflow code (ErrorNoMemory).
func (q *WorkQueue) Submit(job Job) error {
	req, err := job.request()
	if err != nil {
		return err
	}
	if err := q.handle.Submit(req); err != nil {
		return err
	}
	job.markSubmitted()
	return nil
}

// Poll performs one non-blocking completion check. The three outcomes are:
//
//   - ok=true: ev is the terminal completion record of one job;
//   - ok=false, err=nil: nothing has completed yet, try again;
//   - err!=nil: the engine reported a definitive, non-retryable error.
//
// The backend's retry-now signal is consumed here and never surfaced.
func (q *WorkQueue) Poll() (ev Event, ok bool, err error) {
	ev, err = q.handle.Progress()
	if err != nil {
		if IsAgain(err) {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}
	return ev, true, nil
}

// Wait polls until a job completes, the engine reports a non-retryable
// error, or ctx is cancelled. This is the busy-loop protocol of the
// original driver with cancellation layered on top; callers wanting their
// own backoff policy should call Poll directly.
func (q *WorkQueue) Wait(ctx context.Context) (Event, error) {
	for {
		ev, ok, err := q.Poll()
		if err != nil {
			return Event{}, err
		}
		if ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return Event{}, newErrorf(ErrorInProgress, "wait cancelled: %v", ctx.Err())
		default:
		}
	}
}

// Destroy detaches the queue from its context and releases it. Destroying
// again is a no-op. A detach failure is fatal: the context would keep a
// dangling queue binding.
func (q *WorkQueue) Destroy() error {
	if q.handle == nil {
		// Already destroyed, no-op.
		return nil
	}
	if err := q.ctx.handle.RemoveWorkQueue(q.handle); err != nil {
		klog.Fatalf("failed to detach work queue from context during destroy: %v", err)
	}
	if err := q.handle.Destroy(); err != nil {
		return err
	}
	q.handle = nil
	q.ctx = nil
	return nil
}
