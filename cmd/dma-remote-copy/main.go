// dma-remote-copy demonstrates the descriptor handoff between two sides of
// a copy: the exporting side populates a map, exports it, and writes the
// descriptor and buffer-info files; the importing side loads the files,
// rebuilds the map with NewMmapFromExport, and copies the remote buffer
// into a local one.
//
// The software backend is process-local, so both sides run here in turn;
// against real hardware the two halves would run in separate processes on
// the host and the DPU, handing the two files across.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/janpfeifer/must"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/smartnickit-project/godoca/doca"
	"github.com/smartnickit-project/godoca/emu"
)

var (
	flagBackend  string
	flagPCI      string
	flagTxt      string
	flagDescPath string
	flagInfoPath string
)

func main() {
	cmd := &cobra.Command{
		Use:   "dma-remote-copy",
		Short: "Copy a buffer across the exported-map descriptor handoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run()
		},
	}
	cmd.Flags().StringVar(&flagBackend, "backend", "emu", "offload backend to use")
	cmd.Flags().StringVar(&flagPCI, "pci", "03:00.0", "PCI address of the device")
	cmd.Flags().StringVar(&flagTxt, "txt", "This is a sample piece of text", "text to copy")
	cmd.Flags().StringVar(&flagDescPath, "export-desc-path", "", "where to write the export descriptor (default: a temp dir)")
	cmd.Flags().StringVar(&flagInfoPath, "buffer-info-path", "", "where to write the buffer info (default: a temp dir)")
	if err := cmd.Execute(); err != nil {
		klog.Exitf("dma-remote-copy: %v", err)
	}
}

func run() error {
	if flagDescPath == "" || flagInfoPath == "" {
		dir, err := os.MkdirTemp("", "dma-remote-copy")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(dir) }()
		flagDescPath = filepath.Join(dir, "export_desc.txt")
		flagInfoPath = filepath.Join(dir, "buffer_info.txt")
	}
	backend, err := doca.GetBackend(flagBackend)
	if err != nil {
		return err
	}
	payload := []byte(flagTxt)
	cleanup, err := exportSide(backend, payload)
	if err != nil {
		return err
	}
	defer cleanup()
	return importSide(backend, len(payload))
}

// exportSide registers the payload in a map, exports the map, and writes
// the handoff files. The returned cleanup tears the exporting side down;
// it must not run until the importing side is done with the memory.
func exportSide(backend doca.Backend, payload []byte) (func(), error) {
	devctx, err := doca.OpenDeviceWithPCI(backend, flagPCI)
	if err != nil {
		return nil, err
	}
	mm, err := doca.NewMmap(backend)
	if err != nil {
		_ = devctx.Close()
		return nil, err
	}
	cleanup := func() {
		_ = mm.Destroy()
		_ = devctx.Close()
	}
	idx, err := mm.AddDevice(devctx)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := mm.Populate(doca.RawPointerOf(payload)); err != nil {
		cleanup()
		return nil, err
	}
	desc, err := mm.Export(idx)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := doca.SaveConfig(desc, doca.RawPointerOf(payload), flagDescPath, flagInfoPath); err != nil {
		cleanup()
		return nil, err
	}
	fmt.Printf("Exported %d bytes; descriptor in %s, buffer info in %s\n", len(payload), flagDescPath, flagInfoPath)
	return cleanup, nil
}

// importSide loads the handoff files, rebuilds the exported map, and
// copies the remote buffer into freshly allocated local memory.
func importSide(backend doca.Backend, length int) error {
	desc, remoteRange, err := doca.LoadConfig(flagDescPath, flagInfoPath)
	if err != nil {
		return err
	}
	devctx := must.M1(doca.OpenDeviceWithPCI(backend, flagPCI))
	defer func() { _ = devctx.Close() }()

	remoteMap := must.M1(doca.NewMmapFromExport(backend, desc, devctx))
	defer func() { _ = remoteMap.Destroy() }()
	localMap := must.M1(doca.NewMmap(backend))
	defer func() { _ = localMap.Destroy() }()
	must.M1(localMap.AddDevice(devctx))

	inv := must.M1(doca.NewBufferInventory(backend, 2))
	defer func() { _ = inv.Destroy() }()

	srcBuf := must.M1(doca.RemoteMemory(remoteMap, remoteRange).ToBuffer(inv))
	must.M(srcBuf.SetData(0, remoteRange.Len))

	local := make([]byte, length)
	dstBuf := must.M1(must.M1(doca.RegisterMemory(localMap, doca.RawPointerOf(local))).ToBuffer(inv))

	engine := must.M1(doca.NewDMAEngine(backend))
	defer func() { _ = engine.Destroy() }()
	ctx := must.M1(doca.NewContext(engine, []*doca.DevContext{devctx}))
	defer func() { _ = ctx.Destroy() }()
	queue := must.M1(doca.NewWorkQueue(ctx, 1))
	defer func() { _ = queue.Destroy() }()

	job := queue.NewDMAJob(srcBuf, dstBuf)
	defer func() { _ = job.Release() }()
	must.M(queue.Submit(job))
	ev := must.M1(queue.Wait(context.Background()))
	if ev.Result != doca.Success {
		return fmt.Errorf("copy job finished with %s", ev.Result)
	}
	fmt.Printf("Imported map and copied %d bytes: %q\n", len(local), string(local))
	return nil
}

func init() {
	doca.RegisterBackend(emu.New())
}
