package emu

import (
	"unsafe"

	"github.com/smartnickit-project/godoca/doca"
)

// engine is one DMA engine instance together with its execution context.
type engine struct {
	backend   *Backend
	ctx       *execContext
	destroyed bool
}

// NewDMA implements doca.Backend.
func (b *Backend) NewDMA() (doca.EngineHandle, error) {
	e := &engine{backend: b}
	e.ctx = &execContext{backend: b, engine: e}
	b.mu.Lock()
	b.live.Engines++
	b.mu.Unlock()
	return e, nil
}

// Context implements doca.EngineHandle.
func (e *engine) Context() doca.ContextHandle {
	return e.ctx
}

// MaxBufSize implements doca.EngineHandle.
func (e *engine) MaxBufSize(info doca.DeviceInfo) (uint64, error) {
	if !e.backend.knows(info) {
		return 0, errCode(doca.ErrorNotFound, "device %s is not in the device table", pciString(info))
	}
	return e.backend.maxBufSize, nil
}

// Destroy implements doca.EngineHandle. The engine's context must be fully
// torn down (stopped, devices removed, queues detached) first.
func (e *engine) Destroy() error {
	if e.destroyed {
		return errCode(doca.ErrorBadState, "engine destroyed twice")
	}
	if e.ctx.started || len(e.ctx.devices) > 0 || len(e.ctx.queues) > 0 {
		return errCode(doca.ErrorBadState, "engine context is still in use")
	}
	e.destroyed = true
	e.backend.mu.Lock()
	e.backend.live.Engines--
	e.backend.mu.Unlock()
	return nil
}

// execContext is the backend side of an execution context.
type execContext struct {
	backend *Backend
	engine  *engine
	devices []*device
	queues  []*workQueue
	started bool
}

// AddDevice implements doca.ContextHandle. Devices are added while the
// context is stopped; starting freezes the device set.
func (c *execContext) AddDevice(dev doca.DeviceHandle) error {
	d, err := c.backend.ownDevice(dev)
	if err != nil {
		return err
	}
	if c.engine.destroyed || c.started {
		return errCode(doca.ErrorBadState, "context does not accept devices in its current state")
	}
	for _, have := range c.devices {
		if have == d {
			return errCode(doca.ErrorInvalidValue, "device already added to this context")
		}
	}
	c.devices = append(c.devices, d)
	return nil
}

// RemoveDevice implements doca.ContextHandle. Removal from a started
// context fails: stop comes first.
func (c *execContext) RemoveDevice(dev doca.DeviceHandle) error {
	d, err := c.backend.ownDevice(dev)
	if err != nil {
		return err
	}
	if c.started {
		return errCode(doca.ErrorBadState, "context must be stopped before devices are removed")
	}
	for i, have := range c.devices {
		if have == d {
			c.devices = append(c.devices[:i], c.devices[i+1:]...)
			return nil
		}
	}
	return errCode(doca.ErrorNotFound, "device is not added to this context")
}

// Start implements doca.ContextHandle.
func (c *execContext) Start() error {
	if c.engine.destroyed || c.started {
		return errCode(doca.ErrorBadState, "context cannot start in its current state")
	}
	if len(c.devices) == 0 {
		return errCode(doca.ErrorInvalidValue, "context has no devices")
	}
	c.started = true
	return nil
}

// Stop implements doca.ContextHandle. Stopping with jobs still in flight
// fails with ErrorInProgress.
func (c *execContext) Stop() error {
	if !c.started {
		return errCode(doca.ErrorBadState, "context is not started")
	}
	for _, q := range c.queues {
		if len(q.jobs) > 0 {
			return errCode(doca.ErrorInProgress, "a work queue still has %d outstanding jobs", len(q.jobs))
		}
	}
	c.started = false
	return nil
}

// AddWorkQueue implements doca.ContextHandle.
func (c *execContext) AddWorkQueue(qh doca.WorkQueueHandle) error {
	q, err := c.ownQueue(qh)
	if err != nil {
		return err
	}
	if !c.started {
		return errCode(doca.ErrorBadState, "context is not started")
	}
	if q.attached != nil {
		return errCode(doca.ErrorBadState, "work queue is already attached to a context")
	}
	q.attached = c
	c.queues = append(c.queues, q)
	return nil
}

// RemoveWorkQueue implements doca.ContextHandle.
func (c *execContext) RemoveWorkQueue(qh doca.WorkQueueHandle) error {
	q, err := c.ownQueue(qh)
	if err != nil {
		return err
	}
	if q.attached != c {
		return errCode(doca.ErrorNotFound, "work queue is not attached to this context")
	}
	if len(q.jobs) > 0 {
		return errCode(doca.ErrorInProgress, "work queue still has %d outstanding jobs", len(q.jobs))
	}
	for i, have := range c.queues {
		if have == q {
			c.queues = append(c.queues[:i], c.queues[i+1:]...)
			break
		}
	}
	q.attached = nil
	return nil
}

func (c *execContext) ownQueue(qh doca.WorkQueueHandle) (*workQueue, error) {
	q, ok := qh.(*workQueue)
	if !ok || q.backend != c.backend {
		return nil, errCode(doca.ErrorInvalidValue, "work queue handle does not belong to this backend")
	}
	if q.destroyed {
		return nil, errCode(doca.ErrorBadState, "work queue is destroyed")
	}
	return q, nil
}

// workQueue is the backend side of a work queue: a FIFO of submitted jobs
// plus the progress protocol.
type workQueue struct {
	backend   *Backend
	depth     uint32
	attached  *execContext
	jobs      []*job
	destroyed bool
}

// job is one in-flight copy. pollsLeft counts the Progress calls still
// needed before the completion is ready.
type job struct {
	src, dst  *buf
	pollsLeft int
}

// NewWorkQueue implements doca.Backend.
func (b *Backend) NewWorkQueue(depth uint32) (doca.WorkQueueHandle, error) {
	if depth == 0 {
		return nil, errCode(doca.ErrorInvalidValue, "work queue depth must be positive")
	}
	b.mu.Lock()
	b.live.WorkQueues++
	b.mu.Unlock()
	return &workQueue{backend: b, depth: depth}, nil
}

// Submit implements doca.WorkQueueHandle.
func (q *workQueue) Submit(req doca.JobRequest) error {
	if q.destroyed {
		return errCode(doca.ErrorBadState, "work queue is destroyed")
	}
	c, ok := req.Context.(*execContext)
	if !ok || c != q.attached {
		return errCode(doca.ErrorInvalidValue, "job context is not the queue's attached context")
	}
	if !c.started {
		return errCode(doca.ErrorBadState, "context is not started")
	}
	if uint32(len(q.jobs)) >= q.depth {
		return errCode(doca.ErrorNoMemory, "work queue full: %d outstanding jobs at depth %d", len(q.jobs), q.depth)
	}
	src, err := q.jobBuffer(req.Src, c, "source")
	if err != nil {
		return err
	}
	dst, err := q.jobBuffer(req.Dst, c, "destination")
	if err != nil {
		return err
	}
	if uint64(src.dataLen) > q.backend.maxBufSize {
		return errCode(doca.ErrorInvalidValue, "source data of %d bytes exceeds the %d-byte job cap", src.dataLen, q.backend.maxBufSize)
	}
	dstCap := uintptr(dst.head) + uintptr(dst.headLen) - uintptr(dst.data)
	if uintptr(src.dataLen) > dstCap {
		return errCode(doca.ErrorInvalidValue, "source data of %d bytes does not fit the destination's %d remaining bytes", src.dataLen, dstCap)
	}
	q.jobs = append(q.jobs, &job{src: src, dst: dst, pollsLeft: q.backend.pollsPerJob})
	return nil
}

// jobBuffer validates one buffer of a job request: it must be live, belong
// here, and its mmap must be visible to one of the context's devices.
func (q *workQueue) jobBuffer(bh doca.BufHandle, c *execContext, role string) (*buf, error) {
	b, ok := bh.(*buf)
	if !ok || b.inv.backend != q.backend {
		return nil, errCode(doca.ErrorInvalidValue, "%s buffer does not belong to this backend", role)
	}
	if b.released {
		return nil, errCode(doca.ErrorBadState, "%s buffer has been released", role)
	}
	if b.mmap.destroyed {
		return nil, errCode(doca.ErrorBadState, "%s buffer's mmap is destroyed", role)
	}
	for _, md := range b.mmap.devices {
		for _, cd := range c.devices {
			if md == cd {
				return b, nil
			}
		}
	}
	return nil, errCode(doca.ErrorNotPermitted, "%s buffer's mmap shares no device with the context", role)
}

// Progress implements doca.WorkQueueHandle. Jobs complete in submission
// order; each reports the again signal until its poll budget is spent, then
// the copy is performed and the completion event returned.
func (q *workQueue) Progress() (doca.Event, error) {
	if q.destroyed {
		return doca.Event{}, errCode(doca.ErrorBadState, "work queue is destroyed")
	}
	if q.attached == nil {
		return doca.Event{}, errCode(doca.ErrorBadState, "work queue is not attached to a context")
	}
	if len(q.jobs) == 0 {
		return doca.Event{}, errCode(doca.ErrorAgain, "no completion ready")
	}
	j := q.jobs[0]
	j.pollsLeft--
	if j.pollsLeft > 0 {
		return doca.Event{}, errCode(doca.ErrorAgain, "no completion ready")
	}
	q.jobs = q.jobs[1:]

	n := j.src.dataLen
	if n > 0 {
		src := unsafe.Slice((*byte)(j.src.data), n)
		dst := unsafe.Slice((*byte)(j.dst.data), n)
		copy(dst, src)
	}
	j.dst.dataLen = n
	return doca.Event{Result: doca.Success}, nil
}

// Destroy implements doca.WorkQueueHandle. The queue must be detached
// first.
func (q *workQueue) Destroy() error {
	if q.destroyed {
		return errCode(doca.ErrorBadState, "work queue destroyed twice")
	}
	if q.attached != nil {
		return errCode(doca.ErrorBadState, "work queue is still attached to a context")
	}
	q.destroyed = true
	q.jobs = nil
	q.backend.mu.Lock()
	q.backend.live.WorkQueues--
	q.backend.mu.Unlock()
	return nil
}
