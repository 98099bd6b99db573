package doca_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartnickit-project/godoca/doca"
	"github.com/smartnickit-project/godoca/emu"
)

func TestBufferActiveRange(t *testing.T) {
	b := emu.New()
	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 16)
	require.NoError(t, err)
	require.Equal(t, 16, inv.Capacity())

	region := make([]byte, 256)
	head := doca.RawPointerOf(region)
	reg, err := doca.RegisterMemory(mm, head)
	require.NoError(t, err)
	buf, err := reg.ToBuffer(inv)
	require.NoError(t, err)
	require.Equal(t, head, buf.Head())

	// In-bounds sub-ranges are accepted and the resolved pointer is
	// head + offset.
	for _, tc := range []struct{ off, len int }{
		{0, 256},
		{0, 0},
		{32, 64},
		{255, 1},
		{256, 0},
	} {
		require.NoErrorf(t, buf.SetData(tc.off, tc.len), "SetData(%d, %d)", tc.off, tc.len)
		data, err := buf.Data()
		require.NoError(t, err)
		require.Equal(t, head.Addr()+uintptr(tc.off), data.Addr())
		require.Equal(t, tc.len, data.Len)
	}

	// offset+length beyond the head range is rejected.
	for _, tc := range []struct{ off, len int }{
		{0, 257},
		{200, 57},
		{257, 0},
		{-1, 4},
		{0, -1},
	} {
		err := buf.SetData(tc.off, tc.len)
		require.Errorf(t, err, "SetData(%d, %d) should fail", tc.off, tc.len)
		require.Equal(t, doca.ErrorInvalidValue, doca.CodeOf(err))
	}

	require.NoError(t, buf.Release())
	require.NoError(t, buf.Release()) // released buffers are a no-op
	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
	require.Equal(t, emu.Stats{}, b.Stats())
}

func TestBufferHeadMustBeRegistered(t *testing.T) {
	b := emu.New()
	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 4)
	require.NoError(t, err)

	registered := make([]byte, 128)
	reg, err := doca.RegisterMemory(mm, doca.RawPointerOf(registered))
	require.NoError(t, err)
	buf, err := reg.ToBuffer(inv)
	require.NoError(t, err)
	require.NoError(t, buf.Release())

	// A range the map never saw does not translate.
	stray := make([]byte, 128)
	_, err = doca.RemoteMemory(mm, doca.RawPointerOf(stray)).ToBuffer(inv)
	require.Error(t, err)
	require.Equal(t, doca.ErrorInvalidValue, doca.CodeOf(err))

	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
}

func TestInventoryCapacityExhaustion(t *testing.T) {
	b := emu.New()
	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 2)
	require.NoError(t, err)

	region := make([]byte, 64)
	reg, err := doca.RegisterMemory(mm, doca.RawPointerOf(region))
	require.NoError(t, err)

	first, err := reg.ToBuffer(inv)
	require.NoError(t, err)
	second, err := reg.ToBuffer(inv)
	require.NoError(t, err)

	_, err = reg.ToBuffer(inv)
	require.Error(t, err)
	require.Equal(t, doca.ErrorNoMemory, doca.CodeOf(err))

	// Releasing a descriptor makes room again.
	require.NoError(t, first.Release())
	third, err := reg.ToBuffer(inv)
	require.NoError(t, err)

	require.NoError(t, second.Release())
	require.NoError(t, third.Release())
	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
	require.Equal(t, emu.Stats{}, b.Stats())
}

func TestInventoryDestroyWithLiveBuffers(t *testing.T) {
	b := emu.New()
	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 4)
	require.NoError(t, err)

	region := make([]byte, 64)
	reg, err := doca.RegisterMemory(mm, doca.RawPointerOf(region))
	require.NoError(t, err)
	buf, err := reg.ToBuffer(inv)
	require.NoError(t, err)

	// Buffers must be released before their inventory goes away.
	err = inv.Destroy()
	require.Error(t, err)
	require.Equal(t, doca.ErrorBadState, doca.CodeOf(err))

	require.NoError(t, buf.Release())
	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
}
