package doca

import (
	"fmt"

	"k8s.io/klog/v2"
)

// BufferInventory manages a fixed-capacity pool of buffer descriptors. Each
// Buffer obtained from an inventory points into a memory range of one Mmap.
// Capacity is set at construction and immutable afterwards.
type BufferInventory struct {
	backend  Backend
	handle   InventoryHandle
	capacity int
}

// NewBufferInventory allocates an inventory of the given capacity and starts
// it for allocation. Fails with ErrorNoMemory when the pool cannot be
// allocated and ErrorInvalidValue for a non-positive capacity.
func NewBufferInventory(b Backend, capacity int) (*BufferInventory, error) {
	if capacity <= 0 {
		return nil, newErrorf(ErrorInvalidValue, "inventory capacity must be positive, got %d", capacity)
	}
	h, err := b.NewInventory(capacity)
	if err != nil {
		return nil, err
	}
	if err := h.Start(); err != nil {
		destroyErr := h.Destroy()
		if destroyErr != nil {
			klog.Errorf("destroying inventory after failed Start: %v", destroyErr)
		}
		return nil, err
	}
	return &BufferInventory{backend: b, handle: h, capacity: capacity}, nil
}

// Capacity returns the number of descriptors the inventory was sized for.
func (inv *BufferInventory) Capacity() int {
	return inv.capacity
}

// Destroy releases the inventory. Buffers issued from it hold references
// that keep it reachable, but the caller must release all of them before
// destroying the inventory.
func (inv *BufferInventory) Destroy() error {
	if inv.handle == nil {
		// Already destroyed, no-op.
		return nil
	}
	if err := inv.handle.Destroy(); err != nil {
		// Keep the handle: destruction can be retried once the
		// outstanding buffers are released.
		return err
	}
	inv.handle = nil
	return nil
}

// Buffer is a descriptor over a registered memory range, used as a job
// source or destination. The head range is fixed at allocation; the active
// data sub-range, set with SetData, marks the part that actually carries
// payload for a job and must lie within the head range.
//
// A Buffer keeps both the Mmap it points into and the inventory it was
// drawn from alive.
type Buffer struct {
	handle BufHandle
	head   RawPointer

	inv  *BufferInventory
	mmap *Mmap
}

// Head returns the full registered range the buffer was allocated over.
func (b *Buffer) Head() RawPointer {
	return b.head
}

// SetData sets the active data sub-range to [off, off+length) within the
// head range. Fails with ErrorInvalidValue when off+length exceeds the head
// range.
func (b *Buffer) SetData(off, length int) error {
	if off < 0 || length < 0 || off+length > b.head.Len {
		return newErrorf(ErrorInvalidValue, "data range [%d, %d+%d) outside head range of %d bytes", off, off, length, b.head.Len)
	}
	return b.handle.SetData(b.head.offset(off), length)
}

// Data resolves the active data sub-range. The returned range is only valid
// while the head memory is; the buffer does not track that lifetime.
func (b *Buffer) Data() (RawPointer, error) {
	ptr, length, err := b.handle.Data()
	if err != nil {
		return RawPointer{}, err
	}
	return RawPointer{Ptr: ptr, Len: length}, nil
}

// Release returns the descriptor to its inventory. The buffer is invalid
// afterwards; releasing again is a no-op.
func (b *Buffer) Release() error {
	if b.handle == nil {
		// Already released, no-op.
		return nil
	}
	err := b.handle.Release()
	b.handle = nil
	b.inv = nil
	b.mmap = nil
	return err
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b.handle == nil {
		return "Buffer[released]"
	}
	return fmt.Sprintf("Buffer[head=%#x+%d]", b.head.Addr(), b.head.Len)
}
