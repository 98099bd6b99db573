package doca

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultMaxChunks is the chunk limit set on maps created by NewMmap: the
// maximum number of address ranges one map can register.
const DefaultMaxChunks = 64

// MaxExportDescLen bounds the size of the opaque descriptor produced by
// Mmap.Export. The handoff layer rejects anything larger.
const MaxExportDescLen = 2048

// Mmap is a registration pool binding host memory ranges ("chunks") to one
// or more opened devices, enabling address translation for those ranges.
//
// A map created by NewMmap is started and accepts Populate and device
// (de)registration until it is exported; after Export, device removal is
// permanently forbidden. A map created by NewMmapFromExport represents
// remote memory and is never device-mutable.
//
// Mmap is not safe for concurrent use; callers sharing one across threads
// must serialize access.
type Mmap struct {
	backend Backend
	handle  MmapHandle

	// Devices registered into the map, in registration order. Holding the
	// DevContexts keeps them open for as long as the map lives.
	devices []*DevContext

	// removable is cleared on export and on remote creation: past either
	// point the backend forbids device deregistration, and Destroy must
	// skip it.
	removable bool
}

// NewMmap allocates a local memory map with the default chunk limit and
// starts it.
func NewMmap(b Backend) (*Mmap, error) {
	h, err := b.NewMmap()
	if err != nil {
		return nil, err
	}
	if err := h.SetMaxChunks(DefaultMaxChunks); err != nil {
		destroyErr := h.Destroy()
		if destroyErr != nil {
			klog.Errorf("destroying mmap after failed SetMaxChunks: %v", destroyErr)
		}
		return nil, errors.WithMessage(err, "setting mmap chunk limit")
	}
	if err := h.Start(); err != nil {
		destroyErr := h.Destroy()
		if destroyErr != nil {
			klog.Errorf("destroying mmap after failed Start: %v", destroyErr)
		}
		return nil, errors.WithMessage(err, "starting mmap")
	}
	return &Mmap{backend: b, handle: h, removable: true}, nil
}

// NewMmapFromExport builds a map representing remote memory from a
// descriptor produced by Export on the other side, bound to dev. The
// chunk-limit and start steps are already implied by the descriptor.
//
// Failure codes attributable to the device: ErrorNotSupported (device
// missing the create-from-export capability), ErrorNotPermitted,
// ErrorDriver.
func NewMmapFromExport(b Backend, desc []byte, dev *DevContext) (*Mmap, error) {
	if len(desc) == 0 || len(desc) > MaxExportDescLen {
		return nil, newErrorf(ErrorInvalidValue, "export descriptor length %d out of range (1..%d)", len(desc), MaxExportDescLen)
	}
	h, err := b.NewMmapFromExport(desc, dev.handle)
	if err != nil {
		return nil, err
	}
	return &Mmap{
		backend:   b,
		handle:    h,
		devices:   []*DevContext{dev},
		removable: false,
	}, nil
}

// AddDevice registers a device for translation purposes and returns its
// stable registration index. It fails with ErrorNotPermitted once the map
// has been exported or if the map is remote.
func (m *Mmap) AddDevice(dev *DevContext) (int, error) {
	if !m.removable {
		return 0, newErrorf(ErrorNotPermitted, "mmap is exported or remote; device registration is frozen")
	}
	if err := m.handle.AddDevice(dev.handle); err != nil {
		return 0, err
	}
	m.devices = append(m.devices, dev)
	return len(m.devices) - 1, nil
}

// RemoveDevice deregisters the device at the given registration index.
// It fails -- never panics -- with ErrorNotPermitted on an exported or
// remote map.
func (m *Mmap) RemoveDevice(index int) error {
	if index < 0 || index >= len(m.devices) {
		return newErrorf(ErrorInvalidValue, "device index %d out of range (have %d)", index, len(m.devices))
	}
	if !m.removable {
		return newErrorf(ErrorNotPermitted, "mmap is exported or remote; device removal is forbidden")
	}
	if err := m.handle.RemoveDevice(m.devices[index].handle); err != nil {
		return err
	}
	m.devices = append(m.devices[:index], m.devices[index+1:]...)
	return nil
}

// NumDevices returns the number of currently registered devices.
func (m *Mmap) NumDevices() int {
	return len(m.devices)
}

// Populate registers the host memory range with the map, at the backend's
// page-size granularity. It may be called repeatedly up to the chunk limit.
// The memory becomes usable for jobs on every device already registered.
func (m *Mmap) Populate(ptr RawPointer) error {
	if ptr.Ptr == nil || ptr.Len == 0 {
		return newErrorf(ErrorInvalidValue, "cannot populate an empty range")
	}
	return m.handle.Populate(ptr.Ptr, ptr.Len, m.backend.PageSize())
}

// Export produces the opaque, serializable descriptor of this map's
// metadata for the device at devIndex. After a successful Export the map's
// devices can no longer be removed, and Destroy skips deregistration.
func (m *Mmap) Export(devIndex int) ([]byte, error) {
	if devIndex < 0 || devIndex >= len(m.devices) {
		return nil, newErrorf(ErrorInvalidValue, "device index %d out of range (have %d)", devIndex, len(m.devices))
	}
	desc, err := m.handle.Export(m.devices[devIndex].handle)
	if err != nil {
		return nil, err
	}
	if len(desc) > MaxExportDescLen {
		return nil, newErrorf(ErrorInvalidValue, "backend produced a %d-byte descriptor, above the %d-byte bound", len(desc), MaxExportDescLen)
	}
	m.removable = false
	return desc, nil
}

// Destroy releases the map. If device removal is still legal every
// registered device is deregistered first; on an exported or remote map
// deregistration is forbidden by the backend and is skipped. A
// deregistration failure here has no recovery path -- it would leave a
// dangling hardware registration -- and is fatal.
func (m *Mmap) Destroy() error {
	if m.handle == nil {
		// Already destroyed, no-op.
		return nil
	}
	if m.removable {
		for i, dev := range m.devices {
			if err := m.handle.RemoveDevice(dev.handle); err != nil {
				klog.Fatalf("failed to deregister device %d (%s) from mmap during destroy: %v", i, dev.PCIAddress(), err)
			}
		}
		m.devices = nil
	}
	if err := m.handle.Destroy(); err != nil {
		return err
	}
	m.devices = nil
	m.handle = nil
	return nil
}
