//go:build linux

package i2c

import (
	"fmt"
	"sync"

	"github.com/d2r2/go-i2c"
	"github.com/d2r2/go-logger"
	"github.com/sirupsen/logrus"
)

// D2r2 talks to the bus through github.com/d2r2/go-i2c, one handle per address.
type D2r2 struct {
	bus     int
	devices map[uint16]*i2c.I2C
	sync.Mutex
}

func NewD2r2(bus int) (*D2r2, error) {
	// go-i2c logs every transfer at debug
	if err := logger.ChangePackageLogLevel("i2c", logger.InfoLevel); err != nil {
		logrus.Errorf("can't setup i2c logger to INFO: %s", err.Error())
	}
	return &D2r2{
		bus:     bus,
		devices: make(map[uint16]*i2c.I2C),
	}, nil
}

func (d *D2r2) device(addr uint16) (*i2c.I2C, error) {
	if dev, ok := d.devices[addr]; ok {
		return dev, nil
	}
	dev, err := i2c.NewI2C(uint8(addr), d.bus)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c-%d at 0x%02X: %w", d.bus, addr, err)
	}
	d.devices[addr] = dev
	return dev, nil
}

func (d *D2r2) Write(addr uint16, b []byte) error {
	d.Lock()
	defer d.Unlock()
	dev, err := d.device(addr)
	if err != nil {
		return err
	}
	n, err := dev.WriteBytes(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(b))
	}
	return nil
}

func (d *D2r2) Read(addr uint16, b []byte) (int, error) {
	d.Lock()
	defer d.Unlock()
	dev, err := d.device(addr)
	if err != nil {
		return 0, err
	}
	return dev.ReadBytes(b)
}

func (d *D2r2) Close() error {
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
