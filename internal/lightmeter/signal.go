package lightmeter

import (
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
)

var signalCommand = []string{"sh", "-c", "iw dev wlan0 link | grep 'signal:' | awk '{print $2}'"}

// Check the signal strength of the wifi connection
func (m *LMeter) SignalStrength() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		output, err := exec.CommandContext(r.Context(), signalCommand[0], signalCommand[1:]...).Output()
		if err != nil {
			m.log().WithError(err).Warn("failed to read wifi link")
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		dbm, err := strconv.Atoi(strings.TrimSpace(string(output)))
		if err != nil {
			ServeResponse(w, r, "Device is not connected to a network", http.StatusBadRequest)
			return
		}

		quality := signalQuality(dbm)
		m.log().WithField("dbm", dbm).WithField("quality", quality).Debug("wifi signal")
		ServeResponse(w, r, fmt.Sprintf("Signal Strength: %d dBm\nQuality: %d%%", dbm, quality), http.StatusOK)
	}
}

// Scale dBm to a percentage the way iwinfo does, clamped to [-110, -40].
func signalQuality(dbm int) int {
	dbm = max(-110, min(dbm, -40))
	return (dbm + 110) * 100 / 70
}
