package emu

import (
	"unsafe"

	"github.com/smartnickit-project/godoca/doca"
)

// inventory is the backend side of a buffer-descriptor pool.
type inventory struct {
	backend   *Backend
	capacity  int
	started   bool
	destroyed bool
	liveBufs  int
}

// NewInventory implements doca.Backend.
func (b *Backend) NewInventory(capacity int) (doca.InventoryHandle, error) {
	if capacity <= 0 {
		return nil, errCode(doca.ErrorInvalidValue, "inventory capacity must be positive, got %d", capacity)
	}
	b.mu.Lock()
	b.live.Inventories++
	b.mu.Unlock()
	return &inventory{backend: b, capacity: capacity}, nil
}

// Start implements doca.InventoryHandle.
func (inv *inventory) Start() error {
	if inv.destroyed || inv.started {
		return errCode(doca.ErrorBadState, "inventory cannot start in its current state")
	}
	inv.started = true
	return nil
}

// Destroy implements doca.InventoryHandle. Destroying while descriptors are
// still out fails; the caller must release every buffer first.
func (inv *inventory) Destroy() error {
	if inv.destroyed {
		return errCode(doca.ErrorBadState, "inventory destroyed twice")
	}
	if inv.liveBufs > 0 {
		return errCode(doca.ErrorBadState, "inventory still has %d buffers out", inv.liveBufs)
	}
	inv.destroyed = true
	inv.backend.mu.Lock()
	inv.backend.live.Inventories--
	inv.backend.mu.Unlock()
	return nil
}

// BufByArgs implements doca.InventoryHandle. The head range must translate
// through the given mmap, and the data range must lie inside the head
// range.
func (inv *inventory) BufByArgs(mh doca.MmapHandle, head unsafe.Pointer, headLen int, data unsafe.Pointer, dataLen int) (doca.BufHandle, error) {
	if inv.destroyed || !inv.started {
		return nil, errCode(doca.ErrorBadState, "inventory is not started")
	}
	m, ok := mh.(*mmap)
	if !ok || m.backend != inv.backend {
		return nil, errCode(doca.ErrorInvalidValue, "mmap handle does not belong to this backend")
	}
	if m.destroyed || !m.started {
		return nil, errCode(doca.ErrorBadState, "mmap is not started")
	}
	if head == nil || headLen <= 0 {
		return nil, errCode(doca.ErrorInvalidValue, "bad head range")
	}
	if !m.translates(head, headLen) {
		return nil, errCode(doca.ErrorInvalidValue, "head range %#x+%d is not registered with the mmap", uintptr(head), headLen)
	}
	if err := checkDataRange(head, headLen, data, dataLen); err != nil {
		return nil, err
	}
	if inv.liveBufs >= inv.capacity {
		return nil, errCode(doca.ErrorNoMemory, "inventory capacity of %d exhausted", inv.capacity)
	}
	inv.liveBufs++
	inv.backend.mu.Lock()
	inv.backend.live.Buffers++
	inv.backend.mu.Unlock()
	return &buf{
		inv:     inv,
		mmap:    m,
		head:    head,
		headLen: headLen,
		data:    data,
		dataLen: dataLen,
	}, nil
}

// checkDataRange validates [data, data+dataLen) against [head, head+headLen).
func checkDataRange(head unsafe.Pointer, headLen int, data unsafe.Pointer, dataLen int) error {
	if dataLen < 0 {
		return errCode(doca.ErrorInvalidValue, "negative data length")
	}
	start, end := uintptr(head), uintptr(head)+uintptr(headLen)
	d := uintptr(data)
	if d < start || d+uintptr(dataLen) > end {
		return errCode(doca.ErrorInvalidValue, "data range %#x+%d outside head range %#x+%d", d, dataLen, start, headLen)
	}
	return nil
}

// buf is one issued buffer descriptor.
type buf struct {
	inv      *inventory
	mmap     *mmap
	head     unsafe.Pointer
	headLen  int
	data     unsafe.Pointer
	dataLen  int
	released bool
}

// SetData implements doca.BufHandle.
func (b *buf) SetData(addr unsafe.Pointer, length int) error {
	if b.released {
		return errCode(doca.ErrorBadState, "buffer has been released")
	}
	if err := checkDataRange(b.head, b.headLen, addr, length); err != nil {
		return err
	}
	b.data = addr
	b.dataLen = length
	return nil
}

// Data implements doca.BufHandle.
func (b *buf) Data() (unsafe.Pointer, int, error) {
	if b.released {
		return nil, 0, errCode(doca.ErrorBadState, "buffer has been released")
	}
	return b.data, b.dataLen, nil
}

// Release implements doca.BufHandle.
func (b *buf) Release() error {
	if b.released {
		return errCode(doca.ErrorBadState, "buffer released twice")
	}
	b.released = true
	b.inv.liveBufs--
	b.inv.backend.mu.Lock()
	b.inv.backend.live.Buffers--
	b.inv.backend.mu.Unlock()
	return nil
}
