package i2c

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Periph talks to the bus through periph.io. Its bus already addresses each
// transaction, so one handle serves every device.
type Periph struct {
	bus i2c.BusCloser
}

func NewPeriph(name string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init periph host: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", name, err)
	}
	return &Periph{bus: bus}, nil
}

func (p *Periph) Write(addr uint16, b []byte) error {
	return p.bus.Tx(addr, b, nil)
}

func (p *Periph) Read(addr uint16, b []byte) (int, error) {
	if err := p.bus.Tx(addr, nil, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Periph) Close() error {
	return p.bus.Close()
}
