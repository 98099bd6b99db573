package doca

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"
)

// DeviceList is an owned snapshot of the devices visible to a backend at
// enumeration time. Each Device carved from the list holds a reference back
// to it, so the list stays alive while any of its devices does.
type DeviceList struct {
	backend Backend
	infos   []DeviceInfo
}

// Devices enumerates the offload-capable devices visible to the backend.
// The returned list is an owned snapshot: enumeration is a pure function and
// repeated calls see independent state.
func Devices(b Backend) (*DeviceList, error) {
	infos, err := b.Devices()
	if err != nil {
		return nil, err
	}
	return &DeviceList{backend: b, infos: infos}, nil
}

// Len returns the number of enumerated devices.
func (l *DeviceList) Len() int {
	return len(l.infos)
}

// Get returns the device at index, or ok=false when index is out of bounds.
func (l *DeviceList) Get(index int) (*Device, bool) {
	if index < 0 || index >= len(l.infos) {
		return nil, false
	}
	return &Device{list: l, info: l.infos[index]}, true
}

// All returns every device in the list, in enumeration order.
func (l *DeviceList) All() []*Device {
	devs := make([]*Device, len(l.infos))
	for i := range l.infos {
		devs[i] = &Device{list: l, info: l.infos[i]}
	}
	return devs
}

// Device identifies one enumerated offload-capable device. It is immutable
// and owned by the DeviceList it came from.
type Device struct {
	list *DeviceList
	info DeviceInfo
}

// PCIAddress returns the device's bus:device.function address formatted as
// "HH:HH.H" in lower-case hex, e.g. "03:00.1".
func (d *Device) PCIAddress() string {
	return fmt.Sprintf("%02x:%02x.%x", d.info.Bus, d.info.Slot, d.info.Function)
}

// Info returns the raw enumeration record.
func (d *Device) Info() DeviceInfo {
	return d.info
}

// Open acquires an exclusive hardware context for the device. The returned
// DevContext may be shared by any number of memory maps and execution
// contexts; it must be closed exactly once, after all of them are gone.
func (d *Device) Open() (*DevContext, error) {
	h, err := d.list.backend.Open(d.info)
	if err != nil {
		return nil, err
	}
	return &DevContext{backend: d.list.backend, handle: h, info: d.info}, nil
}

// OpenDeviceWithPCI enumerates the backend's devices and opens the first one
// whose formatted PCI address equals pci (case-insensitive). It fails with
// ErrorNotFound when no device matches.
func OpenDeviceWithPCI(b Backend, pci string) (*DevContext, error) {
	list, err := Devices(b)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(pci)
	for _, dev := range list.All() {
		if dev.PCIAddress() == want {
			return dev.Open()
		}
	}
	return nil, newErrorf(ErrorNotFound, "no device with PCI address %q among %d enumerated", pci, list.Len())
}

// DevContext is an opened device: an exclusive, engine-agnostic hardware
// context. It is shared by the memory maps and execution contexts that
// register it; those hold references that keep it reachable, but closing it
// while still registered anywhere is a caller error.
type DevContext struct {
	backend Backend
	handle  DeviceHandle
	info    DeviceInfo
}

// PCIAddress returns the address of the device this context was opened from.
func (c *DevContext) PCIAddress() string {
	return fmt.Sprintf("%02x:%02x.%x", c.info.Bus, c.info.Slot, c.info.Function)
}

// Info returns the enumeration record of the opened device.
func (c *DevContext) Info() DeviceInfo {
	return c.info
}

// Close releases the hardware context. Calling Close again is a no-op.
func (c *DevContext) Close() error {
	if c.handle == nil {
		// Already closed, no-op.
		return nil
	}
	klog.V(1).Infof("closing device %s", c.PCIAddress())
	err := c.handle.Close()
	c.handle = nil
	return err
}

// String implements fmt.Stringer.
func (c *DevContext) String() string {
	if c.handle == nil {
		return "DevContext[closed]"
	}
	return fmt.Sprintf("DevContext[%s@%s]", c.PCIAddress(), c.backend.Name())
}
