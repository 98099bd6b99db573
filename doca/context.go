package doca

import (
	"k8s.io/klog/v2"
)

// Engine is implemented by every engine type whose instances can back an
// execution context (here, the DMA engine). An engine instance must outlive
// every Context built from it.
type Engine interface {
	// contextHandle returns the backend execution context of the engine
	// instance.
	contextHandle() ContextHandle
}

// Context is an execution context: an engine instance bound to one or more
// opened devices, through which work queues execute jobs.
//
// The context keeps references to its engine and to every added device;
// both must stay valid until Destroy. Destroy stops the context before
// removing the devices -- the backend forbids the reverse order.
//
// Adding or removing devices from a shared context is not internally
// locked; callers sharing one across threads must serialize access.
type Context struct {
	backend Backend
	engine  Engine
	handle  ContextHandle
	devices []*DevContext
	started bool
}

// NewContext builds a context from the engine instance and a non-empty
// device list, then starts it. On a device-registration failure the devices
// added so far are removed again before the error is returned, so a failed
// construction leaks nothing.
func NewContext(engine Engine, devices []*DevContext) (*Context, error) {
	if len(devices) == 0 {
		return nil, newErrorf(ErrorInvalidValue, "a context needs at least one device")
	}
	c := &Context{backend: devices[0].backend, engine: engine, handle: engine.contextHandle()}
	for _, dev := range devices {
		if err := c.handle.AddDevice(dev.handle); err != nil {
			c.unwindAddedDevices()
			return nil, err
		}
		c.devices = append(c.devices, dev)
	}
	if err := c.handle.Start(); err != nil {
		c.unwindAddedDevices()
		return nil, err
	}
	c.started = true
	return c, nil
}

// unwindAddedDevices removes the devices registered by a construction that
// did not complete. Removal failing here is as unrecoverable as during
// Destroy.
func (c *Context) unwindAddedDevices() {
	for i, dev := range c.devices {
		if err := c.handle.RemoveDevice(dev.handle); err != nil {
			klog.Fatalf("failed to remove device %d (%s) while unwinding context construction: %v", i, dev.PCIAddress(), err)
		}
	}
	c.devices = nil
}

// NumDevices returns the number of devices bound to the context.
func (c *Context) NumDevices() int {
	return len(c.devices)
}

// Destroy stops the context and removes every device added at
// construction. A stop or removal failure here would leave a dangling
// hardware binding with no recovery path, so it aborts the process rather
// than being silently swallowed. Destroying again is a no-op.
func (c *Context) Destroy() error {
	if c.handle == nil {
		// Already destroyed, no-op.
		return nil
	}
	if c.started {
		if err := c.handle.Stop(); err != nil {
			klog.Fatalf("failed to stop context during destroy: %v", err)
		}
		c.started = false
	}
	for i, dev := range c.devices {
		if err := c.handle.RemoveDevice(dev.handle); err != nil {
			klog.Fatalf("failed to remove device %d (%s) from context during destroy: %v", i, dev.PCIAddress(), err)
		}
	}
	c.devices = nil
	c.handle = nil
	c.engine = nil
	return nil
}
