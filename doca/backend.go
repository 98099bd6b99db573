package doca

import (
	"sort"
	"sync"
	"unsafe"
)

// DeviceInfo describes one enumerated offload-capable device as reported by
// a backend. Bus/slot/function follow the PCI address convention.
type DeviceInfo struct {
	Bus      uint8
	Slot     uint8
	Function uint8
}

// Backend is the driver surface the rest of this package is built on.
//
// A Backend owns the actual hardware (or emulated) resources; the wrapper
// types in this package only manage their lifecycles and ordering. Every
// method that can fail returns an error whose chain carries an *Error with
// the backend's result code.
//
// Backends must tolerate any call order and answer misuse with ErrorBadState
// (or ErrorNotPermitted where the operation defines it) rather than
// corrupting state: the wrapper relies on these errors to enforce its
// teardown discipline.
type Backend interface {
	// Name identifies the backend, e.g. "emu".
	Name() string

	// Devices returns a snapshot of the currently visible devices. The
	// snapshot is owned by the caller; repeated calls are independent.
	Devices() ([]DeviceInfo, error)

	// Open acquires an exclusive hardware context for the device. Each
	// successful Open must be paired with exactly one DeviceHandle.Close.
	Open(info DeviceInfo) (DeviceHandle, error)

	// NewMmap allocates an unstarted memory map object.
	NewMmap() (MmapHandle, error)

	// NewMmapFromExport builds a memory map from a descriptor previously
	// produced by MmapHandle.Export, bound to the given device. The
	// resulting map represents remote memory and is never device-mutable.
	NewMmapFromExport(desc []byte, dev DeviceHandle) (MmapHandle, error)

	// NewInventory allocates a buffer-descriptor pool with the given
	// fixed capacity.
	NewInventory(capacity int) (InventoryHandle, error)

	// NewDMA allocates a DMA engine instance.
	NewDMA() (EngineHandle, error)

	// NewWorkQueue allocates a work queue with the given maximum number
	// of outstanding jobs. The queue is not usable until attached to a
	// context via ContextHandle.AddWorkQueue.
	NewWorkQueue(depth uint32) (WorkQueueHandle, error)

	// PageSize returns the registration granularity for Populate calls.
	PageSize() int
}

// DeviceHandle is an opened device: an exclusive, engine-agnostic hardware
// context.
type DeviceHandle interface {
	Close() error
}

// MmapHandle is the backend side of a memory map: a registration pool
// binding host memory ranges to devices.
type MmapHandle interface {
	SetMaxChunks(n uint32) error
	Start() error
	Stop() error
	AddDevice(dev DeviceHandle) error
	RemoveDevice(dev DeviceHandle) error
	Populate(addr unsafe.Pointer, length int, pageSize int) error
	Export(dev DeviceHandle) ([]byte, error)
	Destroy() error
}

// InventoryHandle is the backend side of a buffer-descriptor pool.
type InventoryHandle interface {
	Start() error
	Destroy() error

	// BufByArgs carves a buffer descriptor over [head, head+headLen)
	// within mmap, with the active data range initialized to
	// [data, data+dataLen).
	BufByArgs(mmap MmapHandle, head unsafe.Pointer, headLen int, data unsafe.Pointer, dataLen int) (BufHandle, error)
}

// BufHandle is one buffer descriptor issued by an inventory.
type BufHandle interface {
	SetData(addr unsafe.Pointer, length int) error
	Data() (unsafe.Pointer, int, error)
	Release() error
}

// EngineHandle is one engine instance (here, a DMA copy engine).
type EngineHandle interface {
	// Context returns the execution context of this engine instance.
	// The context's lifetime is tied to the engine's.
	Context() ContextHandle
	MaxBufSize(info DeviceInfo) (uint64, error)
	Destroy() error
}

// ContextHandle is the backend side of an execution context.
type ContextHandle interface {
	AddDevice(dev DeviceHandle) error
	RemoveDevice(dev DeviceHandle) error
	Start() error
	Stop() error
	AddWorkQueue(q WorkQueueHandle) error
	RemoveWorkQueue(q WorkQueueHandle) error
}

// WorkQueueHandle is the backend side of a work queue.
type WorkQueueHandle interface {
	// Submit enqueues a job. Backends report queue overflow with
	// ErrorNoMemory.
	Submit(job JobRequest) error

	// Progress performs one non-blocking completion check. It returns an
	// ErrorAgain-coded error when no completion is ready yet.
	Progress() (Event, error)

	Destroy() error
}

// JobRequest is the wire form of a job handed to WorkQueueHandle.Submit.
type JobRequest struct {
	Context ContextHandle
	Src     BufHandle
	Dst     BufHandle
}

var (
	backendsMu sync.Mutex
	backends   = make(map[string]Backend)
)

// RegisterBackend makes a backend available to GetBackend under its Name.
// Registering the same name twice replaces the previous entry.
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[b.Name()] = b
}

// GetBackend returns the backend registered under name.
func GetBackend(name string) (Backend, error) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if b, ok := backends[name]; ok {
		return b, nil
	}
	return nil, newErrorf(ErrorNotFound, "no backend registered under %q (registered: %v)", name, registeredNamesLocked())
}

func registeredNamesLocked() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
