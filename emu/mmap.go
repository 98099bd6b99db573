package emu

import (
	"fmt"
	"unsafe"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/smartnickit-project/godoca/doca"
)

// memRange is one registered chunk: the exact range handed to Populate,
// plus the page-aligned span the registration occupies. Translation is
// checked against the exact range; the span is what an export descriptor
// carries.
type memRange struct {
	addr uintptr
	len  int

	spanAddr uintptr
	spanLen  int
}

func (r memRange) contains(addr uintptr, length int) bool {
	return addr >= r.addr && addr+uintptr(length) <= r.addr+uintptr(r.len)
}

// mmap is the backend side of a memory map.
type mmap struct {
	backend *Backend
	id      string

	maxChunks int
	started   bool
	exported  bool
	remote    bool
	destroyed bool

	devices []*device
	ranges  []memRange
}

// exportDescriptor is the emulator's wire form of an exported map. The doca
// layer treats it as an opaque blob; inside the emulator it is CBOR.
type exportDescriptor struct {
	MapID  string       `cbor:"map_id"`
	Device string       `cbor:"device"`
	Ranges []exportSpan `cbor:"ranges"`
}

type exportSpan struct {
	Addr uint64 `cbor:"addr"`
	Len  uint64 `cbor:"len"`
}

// exportRecord remembers an export so a later import can be validated
// against it, the way the driver validates a descriptor against the
// exporting process's registration.
type exportRecord struct {
	ranges []memRange
}

// NewMmap implements doca.Backend.
func (b *Backend) NewMmap() (doca.MmapHandle, error) {
	b.mu.Lock()
	b.live.Mmaps++
	b.mu.Unlock()
	return &mmap{backend: b, id: uuid.NewString(), maxChunks: 1}, nil
}

// NewMmapFromExport implements doca.Backend.
func (b *Backend) NewMmapFromExport(desc []byte, dev doca.DeviceHandle) (doca.MmapHandle, error) {
	d, err := b.ownDevice(dev)
	if err != nil {
		return nil, err
	}
	if b.noExportCap[d.info] {
		return nil, errCode(doca.ErrorNotSupported, "device %02x:%02x.%x has no create-from-export capability", d.info.Bus, d.info.Slot, d.info.Function)
	}
	var ed exportDescriptor
	if err := cbor.Unmarshal(desc, &ed); err != nil {
		return nil, errCode(doca.ErrorInvalidValue, "undecodable export descriptor: %v", err)
	}
	b.mu.Lock()
	rec, ok := b.exports[ed.MapID]
	b.mu.Unlock()
	if !ok {
		return nil, errCode(doca.ErrorDriver, "descriptor references unknown map %s", ed.MapID)
	}
	if len(ed.Ranges) != len(rec.ranges) {
		return nil, errCode(doca.ErrorInvalidValue, "descriptor range count %d does not match the exported map", len(ed.Ranges))
	}
	m := &mmap{
		backend:   b,
		id:        ed.MapID,
		maxChunks: len(ed.Ranges),
		started:   true,
		remote:    true,
		devices:   []*device{d},
	}
	for _, r := range ed.Ranges {
		m.ranges = append(m.ranges, memRange{
			addr:     uintptr(r.Addr),
			len:      int(r.Len),
			spanAddr: uintptr(r.Addr),
			spanLen:  int(r.Len),
		})
	}
	b.mu.Lock()
	b.live.Mmaps++
	b.mu.Unlock()
	return m, nil
}

// ownDevice checks that the handle is a live device of this backend.
func (b *Backend) ownDevice(dev doca.DeviceHandle) (*device, error) {
	d, ok := dev.(*device)
	if !ok || d.backend != b {
		return nil, errCode(doca.ErrorInvalidValue, "device handle does not belong to this backend")
	}
	if d.closed {
		return nil, errCode(doca.ErrorBadState, "device handle is closed")
	}
	return d, nil
}

// SetMaxChunks implements doca.MmapHandle. Unavailable once started.
func (m *mmap) SetMaxChunks(n uint32) error {
	if m.destroyed || m.started {
		return errCode(doca.ErrorBadState, "chunk limit can only change before the mmap is started")
	}
	if n == 0 {
		return errCode(doca.ErrorInvalidValue, "chunk limit must be positive")
	}
	m.maxChunks = int(n)
	return nil
}

// Start implements doca.MmapHandle.
func (m *mmap) Start() error {
	if m.destroyed || m.started {
		return errCode(doca.ErrorBadState, "mmap cannot start in its current state")
	}
	m.started = true
	return nil
}

// Stop implements doca.MmapHandle.
func (m *mmap) Stop() error {
	if m.destroyed || !m.started {
		return errCode(doca.ErrorBadState, "mmap is not started")
	}
	if m.exported || m.remote {
		return errCode(doca.ErrorNotPermitted, "an exported or remote mmap cannot stop")
	}
	m.started = false
	return nil
}

// AddDevice implements doca.MmapHandle.
func (m *mmap) AddDevice(dev doca.DeviceHandle) error {
	d, err := m.backend.ownDevice(dev)
	if err != nil {
		return err
	}
	if m.destroyed || !m.started {
		return errCode(doca.ErrorBadState, "mmap is not started")
	}
	if m.exported || m.remote {
		return errCode(doca.ErrorNotPermitted, "device registration is frozen on an exported or remote mmap")
	}
	for _, have := range m.devices {
		if have == d {
			return errCode(doca.ErrorInvalidValue, "device already registered on this mmap")
		}
	}
	m.devices = append(m.devices, d)
	return nil
}

// RemoveDevice implements doca.MmapHandle.
func (m *mmap) RemoveDevice(dev doca.DeviceHandle) error {
	d, err := m.backend.ownDevice(dev)
	if err != nil {
		return err
	}
	if m.destroyed {
		return errCode(doca.ErrorBadState, "mmap is destroyed")
	}
	if m.exported || m.remote {
		return errCode(doca.ErrorNotPermitted, "device removal is forbidden on an exported or remote mmap")
	}
	for i, have := range m.devices {
		if have == d {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return nil
		}
	}
	return errCode(doca.ErrorNotFound, "device is not registered on this mmap")
}

// Populate implements doca.MmapHandle. The exact range is recorded for
// translation; the page-aligned span around it mirrors the registration
// granularity of the hardware and is what Export reports.
func (m *mmap) Populate(addr unsafe.Pointer, length int, pageSize int) error {
	if m.destroyed || !m.started {
		return errCode(doca.ErrorBadState, "mmap is not started")
	}
	if m.remote {
		return errCode(doca.ErrorNotPermitted, "a remote mmap is not backed by local memory")
	}
	if addr == nil || length <= 0 || pageSize <= 0 {
		return errCode(doca.ErrorInvalidValue, "bad populate range")
	}
	if len(m.ranges) >= m.maxChunks {
		return errCode(doca.ErrorNoMemory, "mmap chunk limit of %d reached", m.maxChunks)
	}
	start := uintptr(addr)
	end := start + uintptr(length)
	spanStart := start - start%uintptr(pageSize)
	spanEnd := end
	if rem := end % uintptr(pageSize); rem != 0 {
		spanEnd += uintptr(pageSize) - rem
	}
	m.ranges = append(m.ranges, memRange{
		addr:     start,
		len:      length,
		spanAddr: spanStart,
		spanLen:  int(spanEnd - spanStart),
	})
	return nil
}

// Export implements doca.MmapHandle. A successful export permanently
// freezes device removal.
func (m *mmap) Export(dev doca.DeviceHandle) ([]byte, error) {
	d, err := m.backend.ownDevice(dev)
	if err != nil {
		return nil, err
	}
	if m.destroyed || !m.started {
		return nil, errCode(doca.ErrorBadState, "mmap is not started")
	}
	if m.remote {
		return nil, errCode(doca.ErrorNotPermitted, "a remote mmap cannot be exported again")
	}
	registered := false
	for _, have := range m.devices {
		if have == d {
			registered = true
			break
		}
	}
	if !registered {
		return nil, errCode(doca.ErrorNotFound, "export device is not registered on this mmap")
	}
	if len(m.ranges) == 0 {
		return nil, errCode(doca.ErrorBadState, "mmap has no populated ranges to export")
	}
	ed := exportDescriptor{
		MapID:  m.id,
		Device: pciString(d.info),
	}
	for _, r := range m.ranges {
		ed.Ranges = append(ed.Ranges, exportSpan{Addr: uint64(r.spanAddr), Len: uint64(r.spanLen)})
	}
	desc, err := cbor.Marshal(ed)
	if err != nil {
		return nil, errCode(doca.ErrorDriver, "encoding export descriptor: %v", err)
	}
	rec := &exportRecord{ranges: append([]memRange(nil), m.ranges...)}
	m.backend.mu.Lock()
	m.backend.exports[m.id] = rec
	m.backend.mu.Unlock()
	m.exported = true
	return desc, nil
}

// Destroy implements doca.MmapHandle. Destroying a mutable map that still
// has devices registered fails: the caller must deregister first, exactly
// the leak the wrapper's teardown ordering exists to prevent.
func (m *mmap) Destroy() error {
	if m.destroyed {
		return errCode(doca.ErrorBadState, "mmap destroyed twice")
	}
	if !m.exported && !m.remote && len(m.devices) > 0 {
		return errCode(doca.ErrorBadState, "mmap still has %d registered devices", len(m.devices))
	}
	m.destroyed = true
	m.devices = nil
	m.ranges = nil
	m.backend.mu.Lock()
	m.backend.live.Mmaps--
	m.backend.mu.Unlock()
	return nil
}

// translates reports whether [addr, addr+length) lies inside one
// registered chunk of the map.
func (m *mmap) translates(addr unsafe.Pointer, length int) bool {
	for _, r := range m.ranges {
		if r.contains(uintptr(addr), length) {
			return true
		}
	}
	return false
}

func pciString(info doca.DeviceInfo) string {
	return fmt.Sprintf("%02x:%02x.%x", info.Bus, info.Slot, info.Function)
}
