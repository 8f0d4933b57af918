//go:build !linux

package i2c

import "errors"

// D2r2 is only available on linux.
type D2r2 struct{}

func NewD2r2(bus int) (*D2r2, error) {
	return nil, errors.New("d2r2 i2c backend requires linux")
}

func (d *D2r2) Write(addr uint16, b []byte) error { return errors.ErrUnsupported }

func (d *D2r2) Read(addr uint16, b []byte) (int, error) { return 0, errors.ErrUnsupported }

func (d *D2r2) Close() error { return nil }
