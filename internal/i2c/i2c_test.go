package i2c

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	logger, hook := test.NewNullLogger()
	reg := NewRegistry(logger)

	assert.False(t, reg.Active(0x23))
	reg.SetActiveFound(0x5C, "BH1750")
	reg.SetActiveFound(0x23, "OTHER")

	assert.True(t, reg.Active(0x23))
	assert.True(t, reg.Active(0x5C))
	assert.False(t, reg.Active(0x10))
	assert.Equal(t, []string{"OTHER at 0x23", "BH1750 at 0x5C"}, reg.Found())

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "I2C: OTHER found at 0x23", hook.LastEntry().Message)
}

func TestOpenUnknownBackend(t *testing.T) {
	bus, err := Open(Options{Backend: "spi"})
	assert.Nil(t, bus)
	assert.ErrorContains(t, err, `unknown i2c backend "spi"`)
}

func TestOpenDevfsIsLazy(t *testing.T) {
	bus, err := Open(Options{Backend: BACKEND_DEVFS, Dev: "/nonexistent/i2c-9"})
	require.NoError(t, err)
	defer bus.Close()

	_, err = bus.Read(0x23, make([]byte, 2))
	assert.Error(t, err)
	assert.Error(t, bus.Write(0x23, []byte{0x10}))
}

func TestOpenDevfsDefaultsToFirstPiBus(t *testing.T) {
	bus, err := Open(Options{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/i2c-1", bus.(*Devfs).path)
}
