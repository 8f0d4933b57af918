package bh1750

const (
	BH1750_ADDR_LOW  uint16 = 0x23 ///< ADDR pin low (default)
	BH1750_ADDR_HIGH uint16 = 0x5C ///< ADDR pin high

	BH1750_TYPE  = "BH1750" ///< Name used when claiming the bus address
	BH1750_INDEX = 10       ///< Sensor command index, as in Sensor10

	BH1750_MTREG_DEFAULT uint8 = 69  ///< Default Measurement Time
	BH1750_MTREG_MIN     uint8 = 31  ///< Lowest Measurement Time accepted by command
	BH1750_MTREG_MAX     uint8 = 254 ///< Highest Measurement Time accepted by command

	BH1750_LUX_DIVISOR float64 = 1.2 ///< Count to lux accuracy factor

	SensorMaxMiss uint8 = 3 ///< Missed reads before the value is considered stale
)

// Opcodes
const (
	BH1750_CONTINUOUS_HIGH_RES_MODE  byte = 0x10 // Start measurement at 1   lx resolution. Measurement time is approx 120ms.
	BH1750_CONTINUOUS_HIGH_RES_MODE2 byte = 0x11 // Start measurement at 0.5 lx resolution. Measurement time is approx 120ms.
	BH1750_CONTINUOUS_LOW_RES_MODE   byte = 0x13 // Start measurement at 4   lx resolution. Measurement time is approx 16ms.

	BH1750_MEASUREMENT_TIME_HIGH byte = 0x40 // Measurement Time register high 3 bits
	BH1750_MEASUREMENT_TIME_LOW  byte = 0x60 // Measurement Time register low 5 bits
)

// Resolution modes, as accepted by Sensor10 and kept in settings
const (
	RESOLUTION_HIGH  uint8 = 0 // High resolution mode (default)
	RESOLUTION_HIGH2 uint8 = 1 // High resolution mode 2
	RESOLUTION_LOW   uint8 = 2 // Low resolution mode
)

// Candidate bus addresses, probed in order
var addresses = [...]uint16{BH1750_ADDR_LOW, BH1750_ADDR_HIGH}

// Opcode written for each resolution mode
var resolution = [...]byte{
	BH1750_CONTINUOUS_HIGH_RES_MODE,
	BH1750_CONTINUOUS_HIGH_RES_MODE2,
	BH1750_CONTINUOUS_LOW_RES_MODE,
}

func ResolutionToString(value uint8) string {
	switch value {
	case RESOLUTION_HIGH:
		return "High resolution (1 lx)"
	case RESOLUTION_HIGH2:
		return "High resolution 2 (0.5 lx)"
	case RESOLUTION_LOW:
		return "Low resolution (4 lx)"
	default:
		return "Unknown"
	}
}
