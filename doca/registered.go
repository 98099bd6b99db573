package doca

// RegisteredMemory records one memory range registered with an Mmap.
//
// Using offload memory is a two step process:
//  1. register the range with RegisterMemory (or RemoteMemory for ranges
//     a remote peer registered and exported);
//  2. carve a Buffer over it with ToBuffer.
type RegisteredMemory struct {
	mmap *Mmap
	rng  RawPointer
}

// RegisterMemory populates mmap with the range and records the
// registration.
func RegisterMemory(mmap *Mmap, rng RawPointer) (*RegisteredMemory, error) {
	if err := mmap.Populate(rng); err != nil {
		return nil, err
	}
	return &RegisteredMemory{mmap: mmap, rng: rng}, nil
}

// RemoteMemory records a range of a remote map without populating: the
// range was registered on the exporting side and arrived through the
// descriptor handoff.
func RemoteMemory(mmap *Mmap, rng RawPointer) *RegisteredMemory {
	return &RegisteredMemory{mmap: mmap, rng: rng}
}

// Range returns the registered address range.
func (r *RegisteredMemory) Range() RawPointer {
	return r.rng
}

// ToBuffer allocates a buffer descriptor over the registered range from
// inv. The head range covers the whole registration; the active data range
// starts empty (offset 0, length 0) -- callers that submit the buffer as a
// job source set it with Buffer.SetData first.
func (r *RegisteredMemory) ToBuffer(inv *BufferInventory) (*Buffer, error) {
	h, err := inv.handle.BufByArgs(r.mmap.handle, r.rng.Ptr, r.rng.Len, r.rng.Ptr, 0)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		handle: h,
		head:   r.rng,
		inv:    inv,
		mmap:   r.mmap,
	}, nil
}
