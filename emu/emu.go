// Package emu implements a pure-Go software rendition of the doca.Backend
// driver surface: a set of fake PCI devices and a DMA copy engine that
// executes jobs with the same submit/progress protocol as the hardware one,
// including the retry-now ("again") signal before a completion becomes
// ready.
//
// The emulator enforces the driver's state machines strictly -- operations
// in the wrong order fail with ErrorBadState or ErrorNotPermitted instead
// of being papered over -- which is what makes it useful for exercising the
// lifecycle discipline of the wrapper types. It also counts live handles of
// every kind (see Stats), so tests can assert that a full teardown leaks
// nothing.
package emu

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/smartnickit-project/godoca/doca"
)

// DefaultDevices is the device table a Backend starts with when no
// WithDevices option is given.
var DefaultDevices = []string{"03:00.0", "03:00.1", "af:00.0"}

const (
	defaultPageSize    = 4096
	defaultMaxBufSize  = 1 << 20
	defaultPollsPerJob = 2
)

// Backend is a software offload backend. The zero value is not usable; use
// New.
//
// One Backend is a process-local "driver": maps exported from it can be
// imported back through NewMmapFromExport, emulating the two cooperating
// processes of the descriptor handoff inside one test process.
type Backend struct {
	devices     []doca.DeviceInfo
	noExportCap map[doca.DeviceInfo]bool
	pageSize    int
	maxBufSize  uint64
	pollsPerJob int

	mu      sync.Mutex
	exports map[string]*exportRecord
	live    Stats
}

// Stats counts the backend objects currently alive. Every create/open
// increments a field and the matching close/destroy/release decrements it;
// after a complete teardown all fields are zero.
type Stats struct {
	OpenDevices int
	Mmaps       int
	Inventories int
	Buffers     int
	Engines     int
	WorkQueues  int
}

// Option configures a Backend.
type Option func(*Backend)

// WithDevices replaces the default device table. Each entry is a PCI
// address in "HH:HH.H" form.
func WithDevices(pci ...string) Option {
	return func(b *Backend) {
		b.devices = b.devices[:0]
		for _, addr := range pci {
			info, err := parsePCI(addr)
			if err != nil {
				panic(fmt.Sprintf("emu.WithDevices: %v", err))
			}
			b.devices = append(b.devices, info)
		}
	}
}

// WithPageSize overrides the registration granularity (default 4096).
func WithPageSize(n int) Option {
	return func(b *Backend) { b.pageSize = n }
}

// WithMaxBufSize overrides the per-job buffer size cap (default 1 MiB).
func WithMaxBufSize(n uint64) Option {
	return func(b *Backend) { b.maxBufSize = n }
}

// WithPollsPerJob sets how many Progress calls a job needs before its
// completion is ready; the calls before the last report the again signal.
// The default of 2 means every job reports again exactly once.
func WithPollsPerJob(n int) Option {
	return func(b *Backend) {
		if n < 1 {
			n = 1
		}
		b.pollsPerJob = n
	}
}

// WithoutExportCapability marks the devices with the given PCI addresses as
// missing the create-from-export capability, so importing a descriptor
// through them fails with ErrorNotSupported.
func WithoutExportCapability(pci ...string) Option {
	return func(b *Backend) {
		for _, addr := range pci {
			info, err := parsePCI(addr)
			if err != nil {
				panic(fmt.Sprintf("emu.WithoutExportCapability: %v", err))
			}
			b.noExportCap[info] = true
		}
	}
}

// New creates a software backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		noExportCap: make(map[doca.DeviceInfo]bool),
		pageSize:    defaultPageSize,
		maxBufSize:  defaultMaxBufSize,
		pollsPerJob: defaultPollsPerJob,
		exports:     make(map[string]*exportRecord),
	}
	for _, addr := range DefaultDevices {
		info, err := parsePCI(addr)
		if err != nil {
			panic(fmt.Sprintf("emu.New: bad default device table: %v", err))
		}
		b.devices = append(b.devices, info)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements doca.Backend.
func (b *Backend) Name() string { return "emu" }

// PageSize implements doca.Backend.
func (b *Backend) PageSize() int { return b.pageSize }

// Stats returns a snapshot of the live handle counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Devices implements doca.Backend: an owned snapshot of the device table.
func (b *Backend) Devices() ([]doca.DeviceInfo, error) {
	if len(b.devices) == 0 {
		return nil, errCode(doca.ErrorNotFound, "no devices configured")
	}
	out := make([]doca.DeviceInfo, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

// Open implements doca.Backend.
func (b *Backend) Open(info doca.DeviceInfo) (doca.DeviceHandle, error) {
	if !b.knows(info) {
		return nil, errCode(doca.ErrorNotFound, "device %02x:%02x.%x is not in the device table", info.Bus, info.Slot, info.Function)
	}
	b.mu.Lock()
	b.live.OpenDevices++
	b.mu.Unlock()
	return &device{backend: b, info: info}, nil
}

func (b *Backend) knows(info doca.DeviceInfo) bool {
	for _, d := range b.devices {
		if d == info {
			return true
		}
	}
	return false
}

// device is one opened device handle.
type device struct {
	backend *Backend
	info    doca.DeviceInfo
	closed  bool
}

// Close implements doca.DeviceHandle.
func (d *device) Close() error {
	if d.closed {
		return errCode(doca.ErrorBadState, "device %02x:%02x.%x closed twice", d.info.Bus, d.info.Slot, d.info.Function)
	}
	d.closed = true
	d.backend.mu.Lock()
	d.backend.live.OpenDevices--
	d.backend.mu.Unlock()
	return nil
}

// parsePCI parses a "HH:HH.H" bus:device.function hex address.
func parsePCI(addr string) (doca.DeviceInfo, error) {
	s := strings.ToLower(addr)
	colon := strings.IndexByte(s, ':')
	dot := strings.LastIndexByte(s, '.')
	if colon < 0 || dot < colon {
		return doca.DeviceInfo{}, fmt.Errorf("malformed PCI address %q (want HH:HH.H)", addr)
	}
	bus, errBus := strconv.ParseUint(s[:colon], 16, 8)
	slot, errSlot := strconv.ParseUint(s[colon+1:dot], 16, 8)
	fn, errFn := strconv.ParseUint(s[dot+1:], 16, 4)
	if errBus != nil || errSlot != nil || errFn != nil {
		return doca.DeviceInfo{}, fmt.Errorf("malformed PCI address %q (want HH:HH.H)", addr)
	}
	return doca.DeviceInfo{Bus: uint8(bus), Slot: uint8(slot), Function: uint8(fn)}, nil
}

// errCode builds the backend-side error values: a bare *doca.Error carrying
// the driver result code.
func errCode(code doca.ErrorCode, format string, args ...any) error {
	return &doca.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
