package bh1750

/*
 * bh1750 - Package for interacting with BH1750 ambient light sensors.
 *
 * Ref:
 * https://www.mouser.com/datasheet/2/348/bh1750fvi-e-186247.pdf
 * https://github.com/arendst/Tasmota/blob/development/tasmota/tasmota_xsns_sensor/xsns_10_bh1750.ino
 *
 */

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var l *logrus.Logger

func init() {
	l = logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(os.Stdout)
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// SetLogger replaces the package logger, so the driver logs wherever the host does.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		l = logger
	}
}

var (
	ErrBusWrite    = errors.New("bus write failed")
	ErrBusRead     = errors.New("bus read failed")
	ErrNotDetected = errors.New("no BH1750 found on the bus")
)

// Bus is a single-transaction I2C bus. Each call is one start/stop sequence.
type Bus interface {
	Write(addr uint16, b []byte) error
	Read(addr uint16, b []byte) (int, error)
}

// Registry tracks which bus addresses are already claimed by a driver.
type Registry interface {
	Active(addr uint16) bool
	SetActiveFound(addr uint16, typ string)
}

// Settings is the persistent store for the resolution mode.
type Settings interface {
	Resolution() uint8
	SetResolution(res uint8) error
}

// Status is the Sensor10 command response.
type Status struct {
	Resolution uint8 `json:"Resolution"`
	MTime      uint8 `json:"MTime"`
}

// Reading is the last valid measurement.
type Reading struct {
	Illuminance uint16  `json:"Illuminance"`
	Lux         float64 `json:"-"`
	Raw         uint16  `json:"-"`
}

type BH1750 struct {
	Address  uint16
	Detected bool
	MTreg    uint8

	lux   float64
	raw   uint16
	valid uint8

	bus      Bus
	registry Registry
	settings Settings
	*sync.Mutex
}

// New returns an undetected sensor with the default measurement time.
// A nil settings store keeps the resolution in memory only.
func New(bus Bus, registry Registry, settings Settings) *BH1750 {
	if settings == nil {
		settings = &memSettings{}
	}
	return &BH1750{
		MTreg:    BH1750_MTREG_DEFAULT,
		bus:      bus,
		registry: registry,
		settings: settings,
		Mutex:    &sync.Mutex{},
	}
}

// Lux converts a raw count into lux. mtreg must not be zero.
// Low resolution mode is scaled like high resolution mode.
func Lux(raw uint16, mtreg uint8, res uint8) float64 {
	lux := float64(raw) / (BH1750_LUX_DIVISOR * (float64(BH1750_MTREG_DEFAULT) / float64(mtreg)))
	if res == RESOLUTION_HIGH2 {
		lux /= 2
	}
	return lux
}

// Illuminance truncates lux toward zero and saturates at 65535.
func Illuminance(lux float64) uint16 {
	switch {
	case math.IsNaN(lux) || lux <= 0:
		return 0
	case lux >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(lux)
}

// Detect probes the candidate addresses in order and claims the first one
// that accepts the full configuration sequence.
func (bh *BH1750) Detect() error {
	bh.Lock()
	defer bh.Unlock()

	for _, addr := range addresses {
		if bh.registry != nil && bh.registry.Active(addr) {
			l.Debugf("%s: address 0x%02X already claimed", BH1750_TYPE, addr)
			continue
		}
		bh.Address = addr
		if err := bh.setMTreg(); err != nil {
			l.WithError(err).Debugf("%s: no response at 0x%02X", BH1750_TYPE, addr)
			continue
		}
		if bh.registry != nil {
			bh.registry.SetActiveFound(addr, BH1750_TYPE)
		}
		bh.Detected = true
		return nil
	}
	bh.Address = 0
	return ErrNotDetected
}

// Set the resolution mode on the sensor, as stored in settings
func (bh *BH1750) SetResolution() error {
	bh.Lock()
	defer bh.Unlock()
	return bh.setResolution()
}

// Set the measurement time on the sensor, followed by the resolution mode
func (bh *BH1750) SetMTreg() error {
	bh.Lock()
	defer bh.Unlock()
	return bh.setMTreg()
}

func (bh *BH1750) setResolution() error {
	return bh.write(resolution[bh.resolution()])
}

func (bh *BH1750) setMTreg() error {
	if err := bh.write(BH1750_MEASUREMENT_TIME_HIGH | ((bh.MTreg >> 5) & 0x07)); err != nil {
		return err
	}
	if err := bh.write(BH1750_MEASUREMENT_TIME_LOW | (bh.MTreg & 0x1F)); err != nil {
		return err
	}
	return bh.setResolution()
}

func (bh *BH1750) write(b byte) error {
	if err := bh.bus.Write(bh.Address, []byte{b}); err != nil {
		return fmt.Errorf("%w at 0x%02X: %w", ErrBusWrite, bh.Address, err)
	}
	return nil
}

// Out of range values from the store fall back to high resolution.
func (bh *BH1750) resolution() uint8 {
	res := bh.settings.Resolution()
	if int(res) >= len(resolution) {
		return RESOLUTION_HIGH
	}
	return res
}

// Read one measurement. The staleness counter drops on every call and is
// reset to SensorMaxMiss only when two bytes arrive.
func (bh *BH1750) Read() error {
	bh.Lock()
	defer bh.Unlock()

	if bh.valid > 0 {
		bh.valid--
	}

	buf := make([]byte, 2)
	n, err := bh.bus.Read(bh.Address, buf)
	if err != nil {
		return fmt.Errorf("%w at 0x%02X: %w", ErrBusRead, bh.Address, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w at 0x%02X: got %d of %d bytes", ErrBusRead, bh.Address, n, len(buf))
	}

	bh.raw = binary.BigEndian.Uint16(buf)
	bh.lux = Lux(bh.raw, bh.MTreg, bh.resolution())
	l.Debugf("Raw: %v, Lux: %.2f", bh.raw, bh.lux)

	bh.valid = SensorMaxMiss
	return nil
}

// EverySecond is the polling tick. Misses are logged, never returned.
func (bh *BH1750) EverySecond() {
	if !bh.IsDetected() {
		return
	}
	if err := bh.Read(); err != nil {
		l.WithFields(logrus.Fields{"type": BH1750_TYPE, "valid": bh.Valid()}).WithError(err).Debug("sensor missed a reading")
	}
}

// CommandSensor applies a Sensor10 payload.
//
//	0       - High resolution mode (default)
//	1       - High resolution mode 2
//	2       - Low resolution mode
//	31..254 - Measurement Time value (not persistent, default is 69)
//
// Any other payload leaves the sensor untouched. The current state is
// returned either way.
func (bh *BH1750) CommandSensor(payload int) Status {
	bh.Lock()
	defer bh.Unlock()

	switch {
	case payload >= int(RESOLUTION_HIGH) && payload <= int(RESOLUTION_LOW):
		if err := bh.settings.SetResolution(uint8(payload)); err != nil {
			l.WithError(err).Error("failed to persist resolution")
		}
		if err := bh.setResolution(); err != nil {
			l.WithError(err).Warn("failed to set resolution")
		}
	case payload >= int(BH1750_MTREG_MIN) && payload <= int(BH1750_MTREG_MAX):
		bh.MTreg = uint8(payload)
		if err := bh.setMTreg(); err != nil {
			l.WithError(err).Warn("failed to set measurement time")
		}
	default:
		l.Debugf("%s: ignoring payload %d", BH1750_TYPE, payload)
	}
	return bh.status()
}

// Status returns the current resolution and measurement time.
func (bh *BH1750) Status() Status {
	bh.Lock()
	defer bh.Unlock()
	return bh.status()
}

func (bh *BH1750) status() Status {
	return Status{Resolution: bh.resolution(), MTime: bh.MTreg}
}

// Reading returns the last measurement, or false once it has gone stale.
func (bh *BH1750) Reading() (Reading, bool) {
	bh.Lock()
	defer bh.Unlock()
	if bh.valid == 0 {
		return Reading{}, false
	}
	return Reading{Illuminance: Illuminance(bh.lux), Lux: bh.lux, Raw: bh.raw}, true
}

// Show renders the last measurement as a telemetry JSON member or as a web
// sensor table row. Stale data renders as an empty string.
func (bh *BH1750) Show(json bool) string {
	r, ok := bh.Reading()
	if !ok {
		return ""
	}
	if json {
		return fmt.Sprintf(`"%s":{"Illuminance":%d}`, BH1750_TYPE, r.Illuminance)
	}
	return fmt.Sprintf("<tr><th>%s Illuminance</th><td>%d lx</td></tr>", BH1750_TYPE, r.Illuminance)
}

func (bh *BH1750) IsDetected() bool {
	bh.Lock()
	defer bh.Unlock()
	return bh.Detected
}

// Valid returns the staleness counter. Zero means no valid data.
func (bh *BH1750) Valid() uint8 {
	bh.Lock()
	defer bh.Unlock()
	return bh.valid
}

type memSettings struct {
	res uint8
}

func (m *memSettings) Resolution() uint8 { return m.res }

func (m *memSettings) SetResolution(res uint8) error {
	m.res = res
	return nil
}
