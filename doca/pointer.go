package doca

import "unsafe"

// RawPointer is an address range over host memory:
//
//	Ptr -> |   ....  Len bytes ....  |
//
// It is the unit handed to Mmap.Populate and carried by buffers as their
// head and active data ranges. A RawPointer does not keep the memory it
// points into alive; the caller owns that.
type RawPointer struct {
	Ptr unsafe.Pointer
	Len int
}

// RawPointerOf returns the address range covering b. The range is only
// valid while b is reachable.
func RawPointerOf(b []byte) RawPointer {
	return RawPointer{Ptr: unsafe.Pointer(unsafe.SliceData(b)), Len: len(b)}
}

// RawPointerAt builds an address range from a numeric address, usually one
// received from a remote peer through the descriptor handoff. The caller is
// responsible for the address being mapped.
func RawPointerAt(addr uintptr, length int) RawPointer {
	return RawPointer{Ptr: unsafe.Pointer(addr), Len: length}
}

// Addr returns the numeric address of the range, in the form the buffer
// info handoff file carries it.
func (p RawPointer) Addr() uintptr {
	return uintptr(p.Ptr)
}

// Bytes returns the range as a byte slice. It aliases the underlying
// memory; the slice is only valid while that memory is.
func (p RawPointer) Bytes() []byte {
	if p.Ptr == nil || p.Len == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p.Ptr), p.Len)
}

// offset returns the range shifted by off bytes. No bounds checking; the
// callers validate against the head range first.
func (p RawPointer) offset(off int) unsafe.Pointer {
	return unsafe.Add(p.Ptr, off)
}
