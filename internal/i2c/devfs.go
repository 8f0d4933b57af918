package i2c

import (
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
)

// Devfs talks to /dev/i2c-N through golang.org/x/exp/io/i2c. The exp package
// binds a handle to one address, so handles are opened on first use and kept.
type Devfs struct {
	path    string
	devices map[uint16]*i2c.Device
	sync.Mutex
}

func NewDevfs(path string) *Devfs {
	return &Devfs{
		path:    path,
		devices: make(map[uint16]*i2c.Device),
	}
}

func (d *Devfs) device(addr uint16) (*i2c.Device, error) {
	if dev, ok := d.devices[addr]; ok {
		return dev, nil
	}
	dev, err := i2c.Open(&i2c.Devfs{Dev: d.path}, int(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at 0x%02X: %w", d.path, addr, err)
	}
	d.devices[addr] = dev
	return dev, nil
}

func (d *Devfs) Write(addr uint16, b []byte) error {
	d.Lock()
	defer d.Unlock()
	dev, err := d.device(addr)
	if err != nil {
		return err
	}
	return dev.Write(b)
}

func (d *Devfs) Read(addr uint16, b []byte) (int, error) {
	d.Lock()
	defer d.Unlock()
	dev, err := d.device(addr)
	if err != nil {
		return 0, err
	}
	if err := dev.Read(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (d *Devfs) Close() error {
	d.Lock()
	defer d.Unlock()
	var first error
	for addr, dev := range d.devices {
		if err := dev.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.devices, addr)
	}
	return first
}
