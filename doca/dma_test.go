package doca_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartnickit-project/godoca/doca"
	"github.com/smartnickit-project/godoca/emu"
)

// TestDMALocalCopy is the full local scenario: one map holds both ranges,
// one inventory issues both buffers, a copy job moves the payload.
func TestDMALocalCopy(t *testing.T) {
	b := emu.New()
	devctx := openFirstDevice(t, b)

	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)
	ctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	require.NoError(t, err)
	queue, err := doca.NewWorkQueue(ctx, 1)
	require.NoError(t, err)

	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	_, err = mm.AddDevice(devctx)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 64)
	require.NoError(t, err)

	const length = 512
	src := bytes.Repeat([]byte{'A'}, length)
	dst := make([]byte, length)

	srcReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(src))
	require.NoError(t, err)
	srcBuf, err := srcReg.ToBuffer(inv)
	require.NoError(t, err)
	require.NoError(t, srcBuf.SetData(0, length))

	dstReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(dst))
	require.NoError(t, err)
	dstBuf, err := dstReg.ToBuffer(inv)
	require.NoError(t, err)

	job := queue.NewDMAJob(srcBuf, dstBuf)
	require.NoError(t, queue.Submit(job))

	ev, err := queue.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, doca.Success, ev.Result)
	require.Equal(t, src, dst)

	// Jobs are single-use.
	err = queue.Submit(job)
	require.Error(t, err)
	require.Equal(t, doca.ErrorBadState, doca.CodeOf(err))

	require.NoError(t, job.Release())
	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
	require.NoError(t, queue.Destroy())
	require.NoError(t, ctx.Destroy())
	require.NoError(t, engine.Destroy())
	require.NoError(t, devctx.Close())
	require.Equal(t, emu.Stats{}, b.Stats())
}

// TestDMARemoteCopy plays both sides of the descriptor handoff: side 1
// exports a populated map and writes the two handoff files, side 2 imports
// them and copies the remote buffer into a local one.
func TestDMARemoteCopy(t *testing.T) {
	b := emu.New()
	dir := t.TempDir()
	descPath := filepath.Join(dir, "export_desc.txt")
	infoPath := filepath.Join(dir, "buffer_info.txt")

	const length = 1024
	payload := bytes.Repeat([]byte{0x5a}, length)

	// Side 1: populate, export, hand off.
	side1Dev := openFirstDevice(t, b)
	side1Map, err := doca.NewMmap(b)
	require.NoError(t, err)
	idx, err := side1Map.AddDevice(side1Dev)
	require.NoError(t, err)
	require.NoError(t, side1Map.Populate(doca.RawPointerOf(payload)))
	desc, err := side1Map.Export(idx)
	require.NoError(t, err)
	require.NoError(t, doca.SaveConfig(desc, doca.RawPointerOf(payload), descPath, infoPath))

	// Side 2: import and copy remote -> local.
	loadedDesc, remoteRange, err := doca.LoadConfig(descPath, infoPath)
	require.NoError(t, err)
	require.Equal(t, desc, loadedDesc)
	require.Equal(t, length, remoteRange.Len)

	devctx := openFirstDevice(t, b)
	remoteMap, err := doca.NewMmapFromExport(b, loadedDesc, devctx)
	require.NoError(t, err)

	localMap, err := doca.NewMmap(b)
	require.NoError(t, err)
	_, err = localMap.AddDevice(devctx)
	require.NoError(t, err)

	inv, err := doca.NewBufferInventory(b, 8)
	require.NoError(t, err)

	srcBuf, err := doca.RemoteMemory(remoteMap, remoteRange).ToBuffer(inv)
	require.NoError(t, err)
	require.NoError(t, srcBuf.SetData(0, remoteRange.Len))

	local := make([]byte, length)
	dstReg, err := doca.RegisterMemory(localMap, doca.RawPointerOf(local))
	require.NoError(t, err)
	dstBuf, err := dstReg.ToBuffer(inv)
	require.NoError(t, err)

	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)
	ctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	require.NoError(t, err)
	queue, err := doca.NewWorkQueue(ctx, 2)
	require.NoError(t, err)

	job := queue.NewDMAJob(srcBuf, dstBuf)
	require.NoError(t, queue.Submit(job))
	ev, err := queue.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, doca.Success, ev.Result)
	require.Equal(t, payload, local)

	require.NoError(t, job.Release())
	require.NoError(t, inv.Destroy())
	require.NoError(t, queue.Destroy())
	require.NoError(t, ctx.Destroy())
	require.NoError(t, engine.Destroy())
	require.NoError(t, remoteMap.Destroy())
	require.NoError(t, localMap.Destroy())
	require.NoError(t, side1Map.Destroy())
	require.NoError(t, devctx.Close())
	require.NoError(t, side1Dev.Close())
	require.Equal(t, emu.Stats{}, b.Stats())
}

// TestWorkQueuePollPending checks the tri-state poll: pending before the
// engine is done, ready exactly once, pending again afterwards.
func TestWorkQueuePollPending(t *testing.T) {
	b := emu.New(emu.WithPollsPerJob(3))
	devctx := openFirstDevice(t, b)

	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)
	ctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	require.NoError(t, err)
	queue, err := doca.NewWorkQueue(ctx, 1)
	require.NoError(t, err)

	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	_, err = mm.AddDevice(devctx)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 4)
	require.NoError(t, err)

	src := []byte("pending poll payload")
	dst := make([]byte, len(src))
	srcReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(src))
	require.NoError(t, err)
	srcBuf, err := srcReg.ToBuffer(inv)
	require.NoError(t, err)
	require.NoError(t, srcBuf.SetData(0, len(src)))
	dstReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(dst))
	require.NoError(t, err)
	dstBuf, err := dstReg.ToBuffer(inv)
	require.NoError(t, err)

	// Nothing submitted yet: pending, not an error.
	_, ok, err := queue.Poll()
	require.NoError(t, err)
	require.False(t, ok)

	job := queue.NewDMAJob(srcBuf, dstBuf)
	require.NoError(t, queue.Submit(job))

	// The engine needs three progress calls; the first two report pending.
	for i := 0; i < 2; i++ {
		_, ok, err = queue.Poll()
		require.NoError(t, err)
		require.False(t, ok)
	}
	ev, ok, err := queue.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doca.Success, ev.Result)
	require.Equal(t, src, dst)

	require.NoError(t, job.Release())
	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
	require.NoError(t, queue.Destroy())
	require.NoError(t, ctx.Destroy())
	require.NoError(t, engine.Destroy())
	require.NoError(t, devctx.Close())
}

// TestWorkQueueDepth submits up to depth jobs without overflow and
// verifies the next submission reports the backend's overflow code.
func TestWorkQueueDepth(t *testing.T) {
	const depth = 3
	b := emu.New()
	devctx := openFirstDevice(t, b)

	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)
	ctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	require.NoError(t, err)
	queue, err := doca.NewWorkQueue(ctx, depth)
	require.NoError(t, err)
	require.EqualValues(t, depth, queue.Depth())

	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	_, err = mm.AddDevice(devctx)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 16)
	require.NoError(t, err)

	jobs := make([]*doca.DMAJob, 0, depth)
	for i := 0; i < depth; i++ {
		src := bytes.Repeat([]byte{byte('a' + i)}, 64)
		dst := make([]byte, 64)
		srcReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(src))
		require.NoError(t, err)
		srcBuf, err := srcReg.ToBuffer(inv)
		require.NoError(t, err)
		require.NoError(t, srcBuf.SetData(0, 64))
		dstReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(dst))
		require.NoError(t, err)
		dstBuf, err := dstReg.ToBuffer(inv)
		require.NoError(t, err)

		job := queue.NewDMAJob(srcBuf, dstBuf)
		require.NoErrorf(t, queue.Submit(job), "submission %d of %d should fit the queue", i+1, depth)
		jobs = append(jobs, job)
	}

	// One over depth overflows.
	extraSrc := make([]byte, 64)
	extraDst := make([]byte, 64)
	extraSrcReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(extraSrc))
	require.NoError(t, err)
	extraSrcBuf, err := extraSrcReg.ToBuffer(inv)
	require.NoError(t, err)
	require.NoError(t, extraSrcBuf.SetData(0, 64))
	extraDstReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(extraDst))
	require.NoError(t, err)
	extraDstBuf, err := extraDstReg.ToBuffer(inv)
	require.NoError(t, err)
	err = queue.Submit(queue.NewDMAJob(extraSrcBuf, extraDstBuf))
	require.Error(t, err)
	require.Equal(t, doca.ErrorNoMemory, doca.CodeOf(err))

	// Draining a completion makes room again.
	_, err = queue.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, queue.Submit(queue.NewDMAJob(extraSrcBuf, extraDstBuf)))

	for i := 0; i < depth; i++ {
		_, err = queue.Wait(context.Background())
		require.NoError(t, err)
	}

	for _, job := range jobs {
		require.NoError(t, job.Release())
	}
	require.NoError(t, extraSrcBuf.Release())
	require.NoError(t, extraDstBuf.Release())
	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
	require.NoError(t, queue.Destroy())
	require.NoError(t, ctx.Destroy())
	require.NoError(t, engine.Destroy())
	require.NoError(t, devctx.Close())
	require.Equal(t, emu.Stats{}, b.Stats())
}

// TestDMAJobWithoutBuffers checks that a job built without buffers is
// rejected cleanly on submit and that releasing it is a no-op, not a panic.
func TestDMAJobWithoutBuffers(t *testing.T) {
	b := emu.New()
	devctx := openFirstDevice(t, b)
	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)
	dctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	require.NoError(t, err)
	queue, err := doca.NewWorkQueue(dctx, 1)
	require.NoError(t, err)

	job := queue.NewDMAJob(nil, nil)
	err = queue.Submit(job)
	require.Error(t, err)
	require.Equal(t, doca.ErrorInvalidValue, doca.CodeOf(err))
	require.NoError(t, job.Release())

	require.NoError(t, queue.Destroy())
	require.NoError(t, dctx.Destroy())
	require.NoError(t, engine.Destroy())
	require.NoError(t, devctx.Close())
}

// TestWaitCancellation bounds the spin with a context.
func TestWaitCancellation(t *testing.T) {
	b := emu.New()
	devctx := openFirstDevice(t, b)
	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)
	dctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	require.NoError(t, err)
	queue, err := doca.NewWorkQueue(dctx, 1)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = queue.Wait(cancelCtx)
	require.Error(t, err)
	require.Equal(t, doca.ErrorInProgress, doca.CodeOf(err))

	require.NoError(t, queue.Destroy())
	require.NoError(t, dctx.Destroy())
	require.NoError(t, engine.Destroy())
	require.NoError(t, devctx.Close())
}

// TestTeardownChain builds the full dependency chain and tears it down in
// reverse order; nothing may fail and no handle may leak.
func TestTeardownChain(t *testing.T) {
	b := emu.New()

	devctx, err := doca.OpenDeviceWithPCI(b, "03:00.0")
	require.NoError(t, err)
	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)
	ctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	require.NoError(t, err)
	queue, err := doca.NewWorkQueue(ctx, 4)
	require.NoError(t, err)
	mm, err := doca.NewMmap(b)
	require.NoError(t, err)
	_, err = mm.AddDevice(devctx)
	require.NoError(t, err)
	inv, err := doca.NewBufferInventory(b, 8)
	require.NoError(t, err)
	region := make([]byte, 4096)
	reg, err := doca.RegisterMemory(mm, doca.RawPointerOf(region))
	require.NoError(t, err)
	buffer, err := reg.ToBuffer(inv)
	require.NoError(t, err)

	// queue -> context -> engine; buffer -> inventory -> map -> device.
	require.NoError(t, queue.Destroy())
	require.NoError(t, ctx.Destroy())
	require.NoError(t, engine.Destroy())
	require.NoError(t, buffer.Release())
	require.NoError(t, inv.Destroy())
	require.NoError(t, mm.Destroy())
	require.NoError(t, devctx.Close())

	require.Equal(t, emu.Stats{}, b.Stats())
}

// TestContextNeedsDevices covers the fail-fast construction contract.
func TestContextNeedsDevices(t *testing.T) {
	b := emu.New()
	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)

	_, err = doca.NewContext(engine, nil)
	require.Error(t, err)
	require.Equal(t, doca.ErrorInvalidValue, doca.CodeOf(err))

	require.NoError(t, engine.Destroy())
}

func TestDMAMaxBufSize(t *testing.T) {
	b := emu.New(emu.WithMaxBufSize(1 << 16))
	engine, err := doca.NewDMAEngine(b)
	require.NoError(t, err)

	list, err := doca.Devices(b)
	require.NoError(t, err)
	dev, ok := list.Get(0)
	require.True(t, ok)

	size, err := engine.MaxBufSize(dev)
	require.NoError(t, err)
	require.EqualValues(t, 1<<16, size)

	require.NoError(t, engine.Destroy())
}
