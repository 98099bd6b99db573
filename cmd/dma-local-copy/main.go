// dma-local-copy copies a string between two registered buffers on the same
// device, polling the work queue until the copy completes.
//
// Example:
//
//	dma-local-copy --pci 03:00.0 --txt "payload to copy"
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/smartnickit-project/godoca/doca"
	"github.com/smartnickit-project/godoca/emu"
)

var (
	flagBackend string
	flagPCI     string
	flagTxt     string
)

func main() {
	cmd := &cobra.Command{
		Use:   "dma-local-copy",
		Short: "Copy a string between two local buffers with the DMA engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run()
		},
	}
	cmd.Flags().StringVar(&flagBackend, "backend", "emu", "offload backend to use")
	cmd.Flags().StringVar(&flagPCI, "pci", "03:00.0", "PCI address of the device")
	cmd.Flags().StringVar(&flagTxt, "txt", "This is a sample piece of text", "text to copy")
	if err := cmd.Execute(); err != nil {
		klog.Exitf("dma-local-copy: %v", err)
	}
}

func run() error {
	backend, err := doca.GetBackend(flagBackend)
	if err != nil {
		return err
	}
	devctx, err := doca.OpenDeviceWithPCI(backend, flagPCI)
	if err != nil {
		return err
	}
	defer func() { _ = devctx.Close() }()

	engine, err := doca.NewDMAEngine(backend)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Destroy() }()

	ctx, err := doca.NewContext(engine, []*doca.DevContext{devctx})
	if err != nil {
		return err
	}
	defer func() { _ = ctx.Destroy() }()

	queue, err := doca.NewWorkQueue(ctx, 1)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Destroy() }()

	mm, err := doca.NewMmap(backend)
	if err != nil {
		return err
	}
	defer func() { _ = mm.Destroy() }()
	if _, err := mm.AddDevice(devctx); err != nil {
		return err
	}

	inv, err := doca.NewBufferInventory(backend, 2)
	if err != nil {
		return err
	}
	defer func() { _ = inv.Destroy() }()

	src := []byte(flagTxt)
	dst := make([]byte, len(src))

	srcReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(src))
	if err != nil {
		return err
	}
	srcBuf, err := srcReg.ToBuffer(inv)
	if err != nil {
		return err
	}
	if err := srcBuf.SetData(0, len(src)); err != nil {
		return err
	}
	dstReg, err := doca.RegisterMemory(mm, doca.RawPointerOf(dst))
	if err != nil {
		return err
	}
	dstBuf, err := dstReg.ToBuffer(inv)
	if err != nil {
		return err
	}

	job := queue.NewDMAJob(srcBuf, dstBuf)
	defer func() { _ = job.Release() }()
	if err := queue.Submit(job); err != nil {
		return err
	}
	ev, err := queue.Wait(context.Background())
	if err != nil {
		return err
	}
	if ev.Result != doca.Success {
		return fmt.Errorf("copy job finished with %s", ev.Result)
	}
	fmt.Printf("Copied %d bytes on %s: %q\n", len(dst), devctx, string(dst))
	return nil
}

func init() {
	doca.RegisterBackend(emu.New())
}
