package lightmeter

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/bh1750"
	"github.com/ztkent/lux-meter/internal/i2c"
)

//go:embed html/*
var templateFiles embed.FS

const (
	DB_PATH = "luxmeter.db"
)

// The host ticks the driver once per second.
var tickInterval = time.Second

var (
	ErrNotConnected   = errors.New("the sensor is not connected")
	ErrAlreadyStarted = errors.New("the sensor is already started")
	ErrNotStarted     = errors.New("the sensor is already stopped")
)

// Sensor is the driver as seen by the host.
type Sensor interface {
	IsDetected() bool
	EverySecond()
	CommandSensor(payload int) bh1750.Status
	Status() bh1750.Status
	Reading() (bh1750.Reading, bool)
	Valid() uint8
	Show(json bool) string
}

type LMeter struct {
	Sensor         Sensor
	Store          *Store
	Registry       *i2c.Registry
	LuxResultsChan chan LuxResults
	Log            logrus.FieldLogger
	DBPath         string
	RecordInterval time.Duration
	Location       *time.Location
	Pid            int

	mu      sync.Mutex
	session *session
}

// A recording session. Readings are only recorded while one is running.
type session struct {
	id         string
	lastRecord time.Time
}

type LuxResults struct {
	SessionID  string
	Lux        float64
	Raw        uint16
	MTreg      uint8
	Resolution uint8
}

// StartSession begins recording fresh readings until StopSession.
func (m *LMeter) StartSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Sensor == nil || !m.Sensor.IsDetected() {
		return ErrNotConnected
	}
	if m.session != nil {
		return ErrAlreadyStarted
	}
	m.session = &session{id: uuid.New().String()}
	m.log().WithField("session", m.session.id).Info("It's going to be a bright day!")
	return nil
}

// StopSession ends recording. The sensor keeps being polled.
func (m *LMeter) StopSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNotStarted
	}
	m.log().WithField("session", m.session.id).Info("Session stopped")
	m.session = nil
	return nil
}

func (m *LMeter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Poll ticks the sensor once per second until ctx ends, whether or not a
// session is recording, so stale data stops being reported.
func (m *LMeter) Poll(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Sensor.EverySecond()

			result, ok := m.freshResult(now)
			if !ok {
				continue
			}
			select {
			case m.LuxResultsChan <- result:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// freshResult returns the reading to record for this tick, if any.
func (m *LMeter) freshResult(now time.Time) (LuxResults, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return LuxResults{}, false
	}
	// Only fresh readings are recorded; a missed tick keeps the old value.
	if m.Sensor.Valid() != bh1750.SensorMaxMiss {
		return LuxResults{}, false
	}
	reading, ok := m.Sensor.Reading()
	if !ok {
		return LuxResults{}, false
	}
	if m.RecordInterval > 0 && now.Sub(m.session.lastRecord) < m.RecordInterval {
		return LuxResults{}, false
	}
	m.session.lastRecord = now

	status := m.Sensor.Status()
	return LuxResults{
		SessionID:  m.session.id,
		Lux:        reading.Lux,
		Raw:        reading.Raw,
		MTreg:      status.MTime,
		Resolution: status.Resolution,
	}, true
}

// Read from LuxResultsChan, write the results to sqlite
func (m *LMeter) MonitorAndRecordResults(ctx context.Context) error {
	m.log().Info("Monitoring for new illuminance readings...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-m.LuxResultsChan:
			m.log().Debugf("- Session: %s, Lux: %.5f", result.SessionID, result.Lux)
			if err := m.Store.RecordReading(result); err != nil {
				m.log().WithError(err).Error("failed to record reading")
			}
		}
	}
}

// Start recording
func (m *LMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.StartSession(); err != nil {
			ServeResponse(w, r, capitalize(err.Error()), http.StatusBadRequest)
			return
		}
		ServeResponse(w, r, "Illuminance Reading Started", http.StatusOK)
	}
}

// Stop recording
func (m *LMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil || !m.Sensor.IsDetected() {
			ServeResponse(w, r, capitalize(ErrNotConnected.Error()), http.StatusBadRequest)
			return
		}
		if err := m.StopSession(); err != nil {
			ServeResponse(w, r, capitalize(err.Error()), http.StatusBadRequest)
			return
		}
		ServeResponse(w, r, "Illuminance Reading Stopped", http.StatusOK)
	}
}

// Command runs a sensor command, either Tasmota style from /cm?cmnd=Sensor10%2050
// or from /api/v1/sensor10?payload=50. A missing payload only reports the state.
func (m *LMeter) Command() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload string
		if r.URL.Query().Has("cmnd") {
			cmnd := r.URL.Query().Get("cmnd")
			name, arg, _ := strings.Cut(strings.TrimSpace(cmnd), " ")
			if !strings.EqualFold(name, sensorCommand()) {
				serveJSON(w, http.StatusBadRequest, map[string]string{"Command": "Unknown"})
				return
			}
			payload = strings.TrimSpace(arg)
		} else {
			payload = strings.TrimSpace(r.URL.Query().Get("payload"))
		}

		if m.Sensor == nil || !m.Sensor.IsDetected() {
			ServeResponse(w, r, capitalize(ErrNotConnected.Error()), http.StatusServiceUnavailable)
			return
		}

		var status bh1750.Status
		if payload == "" {
			status = m.Sensor.Status()
		} else {
			value, err := strconv.Atoi(payload)
			if err != nil {
				// Not a number: nothing to apply, echo the state back.
				m.log().Debugf("ignoring non numeric payload %q", payload)
				status = m.Sensor.Status()
			} else {
				status = m.Sensor.CommandSensor(value)
			}
		}
		serveJSON(w, http.StatusOK, map[string]bh1750.Status{sensorCommand(): status})
	}
}

// Telemetry serves the periodic sensor report, e.g.
// {"Time":"2026-01-02T15:04:05","BH1750":{"Illuminance":833}}
// The sensor member is left out while its data is stale.
func (m *LMeter) Telemetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		fmt.Fprintf(&b, `{"Time":%q`, time.Now().In(m.location()).Format("2006-01-02T15:04:05"))
		if m.Sensor != nil && m.Sensor.IsDetected() {
			if member := m.Sensor.Show(true); member != "" {
				b.WriteString(",")
				b.WriteString(member)
			}
		}
		b.WriteString("}")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(b.String()))
	}
}

// Serve data about the most recent reading saved to the db
func (m *LMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, err := m.Store.Latest()
		if err != nil {
			m.log().WithError(err).Debug("no recorded readings")
			ServeResponse(w, r, "No readings recorded yet", http.StatusNotFound)
			return
		}
		conditions, err := json.Marshal(struct {
			SessionID  string  `json:"sessionID"`
			Lux        float64 `json:"lux"`
			Raw        uint16  `json:"raw"`
			MTime      uint8   `json:"mtime"`
			Resolution string  `json:"resolution"`
		}{latest.SessionID, latest.Lux, latest.Raw, latest.MTreg, bh1750.ResolutionToString(latest.Resolution)})
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, string(conditions), http.StatusOK)
	}
}

// Populate the response div with a message, or reply with a JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	if strings.Contains(r.URL.Path, "/api/v1/") {
		serveJSON(w, status, map[string]string{"message": message})
		return
	}

	tmpl, err := parseTemplateFile("html/response.gohtml")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, message); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func serveJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTemplateFile(path string) (*template.Template, error) {
	content, err := templateFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template: %w", err)
	}
	tmpl, err := template.New(path).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

func sensorCommand() string {
	return fmt.Sprintf("Sensor%d", bh1750.BH1750_INDEX)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (m *LMeter) log() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}

func (m *LMeter) location() *time.Location {
	if m.Location == nil {
		return time.Local
	}
	return m.Location
}
