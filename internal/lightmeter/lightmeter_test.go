package lightmeter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/lux-meter/bh1750"
	"github.com/ztkent/lux-meter/internal/i2c"
	"github.com/ztkent/lux-meter/internal/tools"
)

// fakeBus answers every read with raw and records writes.
type fakeBus struct {
	sync.Mutex
	raw     uint16
	failing bool
	written []byte
}

func (b *fakeBus) Write(addr uint16, p []byte) error {
	b.Lock()
	defer b.Unlock()
	if b.failing {
		return errors.New("nack")
	}
	b.written = append(b.written, p...)
	return nil
}

func (b *fakeBus) Read(addr uint16, p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	if b.failing {
		return 0, errors.New("nack")
	}
	binary.BigEndian.PutUint16(p, b.raw)
	return 2, nil
}

func (b *fakeBus) setFailing(v bool) {
	b.Lock()
	defer b.Unlock()
	b.failing = v
}

func (b *fakeBus) takeWrites() []byte {
	b.Lock()
	defer b.Unlock()
	out := b.written
	b.written = nil
	return out
}

func newTestMeter(t *testing.T, detect bool) (*LMeter, *fakeBus) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := tools.ConnectSqlite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	bus := &fakeBus{raw: 1000}
	if !detect {
		bus.failing = true
	}
	sensor := bh1750.New(bus, i2c.NewRegistry(logger), store)
	if detect {
		require.NoError(t, sensor.Detect())
	} else {
		require.ErrorIs(t, sensor.Detect(), bh1750.ErrNotDetected)
	}
	bus.takeWrites()

	return &LMeter{
		Sensor:         sensor,
		Store:          store,
		LuxResultsChan: make(chan LuxResults),
		Log:            logger,
		DBPath:         dbPath,
		Location:       time.UTC,
	}, bus
}

func get(t *testing.T, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) bh1750.Status {
	t.Helper()
	var body map[string]bh1750.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	status, ok := body["Sensor10"]
	require.True(t, ok, rec.Body.String())
	return status
}

func TestCommandMeasurementTime(t *testing.T) {
	m, bus := newTestMeter(t, true)

	rec := get(t, m.Command(), "/cm?cmnd=Sensor10%2050")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"Sensor10":{"Resolution":0,"MTime":50}}`, rec.Body.String())
	assert.Equal(t, []byte{0x41, 0x72, 0x10}, bus.takeWrites())
}

func TestCommandResolutionIsPersisted(t *testing.T) {
	m, bus := newTestMeter(t, true)

	rec := get(t, m.Command(), "/api/v1/sensor10?payload=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bh1750.Status{Resolution: 1, MTime: 69}, decodeStatus(t, rec))
	assert.Equal(t, []byte{0x11}, bus.takeWrites())

	reloaded, err := NewStore(m.Store.db)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), reloaded.Resolution())
}

func TestCommandEchoesState(t *testing.T) {
	m, bus := newTestMeter(t, true)

	for _, target := range []string{
		"/cm?cmnd=Sensor10",
		"/cm?cmnd=sensor10%20abc",
		"/cm?cmnd=Sensor10%20255",
		"/api/v1/sensor10",
		"/api/v1/sensor10?payload=-1",
	} {
		rec := get(t, m.Command(), target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, bh1750.Status{Resolution: 0, MTime: 69}, decodeStatus(t, rec), target)
	}
	assert.Empty(t, bus.takeWrites())
}

func TestCommandUnknown(t *testing.T) {
	m, _ := newTestMeter(t, true)
	rec := get(t, m.Command(), "/cm?cmnd=Power%20On")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandNotConnected(t *testing.T) {
	m, _ := newTestMeter(t, false)
	rec := get(t, m.Command(), "/api/v1/sensor10?payload=1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"message":"The sensor is not connected"}`, rec.Body.String())
}

func TestTelemetry(t *testing.T) {
	m, bus := newTestMeter(t, true)

	telemetry := func() map[string]json.RawMessage {
		rec := get(t, m.Telemetry(), "/api/v1/status")
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
		return body
	}

	body := telemetry()
	assert.Contains(t, body, "Time")
	assert.NotContains(t, body, "BH1750")

	m.Sensor.EverySecond()
	body = telemetry()
	assert.JSONEq(t, `{"Illuminance":833}`, string(body["BH1750"]))

	bus.setFailing(true)
	for i := 0; i < int(bh1750.SensorMaxMiss); i++ {
		m.Sensor.EverySecond()
	}
	assert.NotContains(t, telemetry(), "BH1750")
}

func fastTicks(t *testing.T) {
	tickInterval = 5 * time.Millisecond
	t.Cleanup(func() { tickInterval = time.Second })
}

// hasReading reports whether telemetry carries a sensor member.
func hasReading(t *testing.T, m *LMeter) bool {
	rec := httptest.NewRecorder()
	m.Telemetry()(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Errorf("bad telemetry %q: %v", rec.Body.String(), err)
		return false
	}
	_, ok := body["BH1750"]
	return ok
}

func TestSessionRecordsFreshReadings(t *testing.T) {
	fastTicks(t)
	m, _ := newTestMeter(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.MonitorAndRecordResults(ctx)
	go m.Poll(ctx)

	require.NoError(t, m.StartSession())
	assert.True(t, m.Running())
	assert.ErrorIs(t, m.StartSession(), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		_, err := m.Store.Latest()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.StopSession())
	assert.False(t, m.Running())
	assert.ErrorIs(t, m.StopSession(), ErrNotStarted)

	latest, err := m.Store.Latest()
	require.NoError(t, err)
	assert.InDelta(t, 833.333, latest.Lux, 0.001)
	assert.Equal(t, uint16(1000), latest.Raw)
	assert.Equal(t, uint8(69), latest.MTreg)
	assert.NotEmpty(t, latest.SessionID)
}

func TestPollWithoutSessionDoesNotRecord(t *testing.T) {
	fastTicks(t)
	m, _ := newTestMeter(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Poll(ctx)

	require.Eventually(t, func() bool { return hasReading(t, m) }, 2*time.Second, 5*time.Millisecond)
	select {
	case r := <-m.LuxResultsChan:
		t.Fatalf("unexpected reading %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReadingGoesStaleAfterSessionStops(t *testing.T) {
	fastTicks(t)
	m, bus := newTestMeter(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.MonitorAndRecordResults(ctx)
	go m.Poll(ctx)

	require.NoError(t, m.StartSession())
	require.Eventually(t, func() bool { return hasReading(t, m) }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.StopSession())

	bus.setFailing(true)
	require.Eventually(t, func() bool { return !hasReading(t, m) }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, m.Sensor.Valid())

	rec := get(t, m.ServeWebSensor(), "/lightmeter/sensor")
	assert.Contains(t, rec.Body.String(), "No recent reading")
}

func TestSessionSkipsStaleReadings(t *testing.T) {
	fastTicks(t)
	m, bus := newTestMeter(t, true)
	bus.setFailing(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Poll(ctx)

	require.NoError(t, m.StartSession())
	select {
	case r := <-m.LuxResultsChan:
		t.Fatalf("unexpected reading %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, m.StopSession())
	assert.Equal(t, uint8(0), m.Sensor.Valid())
}

func TestStartWithoutSensor(t *testing.T) {
	m, _ := newTestMeter(t, false)
	assert.ErrorIs(t, m.StartSession(), ErrNotConnected)

	rec := get(t, m.Start(), "/api/v1/start")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = get(t, m.Stop(), "/api/v1/stop")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartStopHandlers(t *testing.T) {
	m, _ := newTestMeter(t, true)

	rec := get(t, m.Start(), "/api/v1/start")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Illuminance Reading Started"}`, rec.Body.String())

	rec = get(t, m.Start(), "/lightmeter/start")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "The sensor is already started")

	rec = get(t, m.Stop(), "/api/v1/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Illuminance Reading Stopped"}`, rec.Body.String())
}

func TestCurrentConditions(t *testing.T) {
	m, _ := newTestMeter(t, true)

	rec := get(t, m.CurrentConditions(), "/api/v1/current-conditions")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, m.Store.RecordReading(LuxResults{SessionID: "abc", Lux: 416.66667, Raw: 1000, MTreg: 69, Resolution: 1}))
	rec = get(t, m.CurrentConditions(), "/api/v1/current-conditions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `{"sessionID":"abc","lux":416.66667,"raw":1000,"mtime":69,"resolution":"High resolution 2 (0.5 lx)"}`, body["message"])
}
