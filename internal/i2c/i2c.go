package i2c

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	BACKEND_DEVFS  = "devfs"
	BACKEND_D2R2   = "d2r2"
	BACKEND_PERIPH = "periph"
)

// Options selects and addresses a bus backend.
type Options struct {
	Backend   string `toml:"backend"`
	Dev       string `toml:"dev"`        // devfs: bus device, e.g. /dev/i2c-1
	BusNumber int    `toml:"bus_number"` // d2r2: bus number, e.g. 1
	BusName   string `toml:"bus_name"`   // periph: registered bus name, "" for the first one
}

// Bus is a single-transaction I2C bus shared by every device on it.
type Bus interface {
	Write(addr uint16, b []byte) error
	Read(addr uint16, b []byte) (int, error)
	Close() error
}

// Open the bus backend named in opts.
func Open(opts Options) (Bus, error) {
	switch opts.Backend {
	case BACKEND_DEVFS, "":
		dev := opts.Dev
		if dev == "" {
			// i2c-1 is the default I2C bus for the Raspberry Pi
			dev = "/dev/i2c-1"
		}
		return NewDevfs(dev), nil
	case BACKEND_D2R2:
		bus, err := NewD2r2(opts.BusNumber)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case BACKEND_PERIPH:
		bus, err := NewPeriph(opts.BusName)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown i2c backend %q", opts.Backend)
	}
}

// Registry records which addresses on the bus are claimed, and by what.
type Registry struct {
	mu     sync.Mutex
	active map[uint16]string
	log    logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		active: make(map[uint16]string),
		log:    log,
	}
}

func (r *Registry) Active(addr uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[addr]
	return ok
}

func (r *Registry) SetActiveFound(addr uint16, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[addr] = typ
	r.log.Infof("I2C: %s found at 0x%02X", typ, addr)
}

// Found returns a description of every claimed address, lowest first.
func (r *Registry) Found() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := make([]int, 0, len(r.active))
	for addr := range r.active {
		addrs = append(addrs, int(addr))
	}
	sort.Ints(addrs)
	found := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		found = append(found, fmt.Sprintf("%s at 0x%02X", r.active[uint16(addr)], addr))
	}
	return found
}
