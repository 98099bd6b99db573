package doca

// DMAEngine is an instance of the DMA copy engine. It implements Engine, so
// a Context can be built from it; the instance must outlive every such
// context.
type DMAEngine struct {
	backend Backend
	handle  EngineHandle
}

// NewDMAEngine allocates a DMA engine instance from the backend.
func NewDMAEngine(b Backend) (*DMAEngine, error) {
	h, err := b.NewDMA()
	if err != nil {
		return nil, err
	}
	return &DMAEngine{backend: b, handle: h}, nil
}

// contextHandle implements Engine.
func (e *DMAEngine) contextHandle() ContextHandle {
	return e.handle.Context()
}

// MaxBufSize returns the maximum buffer size the device supports for one
// DMA job.
func (e *DMAEngine) MaxBufSize(dev *Device) (uint64, error) {
	return e.handle.MaxBufSize(dev.Info())
}

// Destroy releases the engine instance. Every Context built from it must
// already be destroyed. Destroying again is a no-op.
func (e *DMAEngine) Destroy() error {
	if e.handle == nil {
		// Already destroyed, no-op.
		return nil
	}
	if err := e.handle.Destroy(); err != nil {
		return err
	}
	e.handle = nil
	return nil
}

// DMAJob is one memory-copy request: source and destination buffers plus
// the context to execute on. The job owns its buffers until it completes or
// is dropped, extending their lifetime for the duration of the transfer.
// Jobs are single-use: once submitted they cannot be submitted again.
type DMAJob struct {
	ctx       *Context
	src, dst  *Buffer
	submitted bool
}

// NewDMAJob builds a copy job src -> dst targeting the queue's context.
// The amount copied is the source buffer's active data range, so callers
// set it with Buffer.SetData before submitting.
func (q *WorkQueue) NewDMAJob(src, dst *Buffer) *DMAJob {
	return &DMAJob{ctx: q.ctx, src: src, dst: dst}
}

// Src returns the job's source buffer.
func (j *DMAJob) Src() *Buffer {
	return j.src
}

// Dst returns the job's destination buffer.
func (j *DMAJob) Dst() *Buffer {
	return j.dst
}

// request implements Job.
func (j *DMAJob) request() (JobRequest, error) {
	if j.submitted {
		return JobRequest{}, newErrorf(ErrorBadState, "DMA job already submitted; jobs are single-use")
	}
	if j.src == nil || j.src.handle == nil || j.dst == nil || j.dst.handle == nil {
		return JobRequest{}, newErrorf(ErrorInvalidValue, "DMA job needs live source and destination buffers")
	}
	return JobRequest{
		Context: j.ctx.handle,
		Src:     j.src.handle,
		Dst:     j.dst.handle,
	}, nil
}

// markSubmitted implements Job.
func (j *DMAJob) markSubmitted() {
	j.submitted = true
}

// Release gives the job's buffers back to their inventory. Call it after
// the terminal event for the job has been observed.
func (j *DMAJob) Release() error {
	if j.src != nil {
		if err := j.src.Release(); err != nil {
			return err
		}
	}
	if j.dst != nil {
		return j.dst.Release()
	}
	return nil
}
