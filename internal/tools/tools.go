package tools

import (
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	LayoutInput = "2006-01-02T15:04"    // datetime-local form value
	LayoutDB    = "2006-01-02 15:04:05" // sqlite CURRENT_TIMESTAMP, UTC
)

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
)

func mustParseCIDRs(blocks ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, block := range blocks {
		_, cidr, err := net.ParseCIDR(block)
		if err != nil {
			panic(err)
		}
		nets = append(nets, cidr)
	}
	return nets
}

// Prevent out-of-network requests to the command endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !IsLocalAddress(parsedIP) {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func IsLocalAddress(ip net.IP) bool {
	for _, cidr := range privateBlocks {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Get the start and end dates from the request, formatted for comparison with
// the DB. Form values are read in loc; a missing or bad range falls back to the
// last 8 hours.
func ParseStartAndEndDate(r *http.Request, loc *time.Location) (string, string) {
	if loc == nil {
		loc = time.Local
	}
	r.ParseForm()
	now := time.Now().UTC()
	startDate := now.Add(-8 * time.Hour).Format(LayoutDB)
	endDate := now.Format(LayoutDB)

	start, errStart := time.ParseInLocation(LayoutInput, r.FormValue("start"), loc)
	end, errEnd := time.ParseInLocation(LayoutInput, r.FormValue("end"), loc)
	if errStart != nil || errEnd != nil {
		if r.FormValue("start") != "" || r.FormValue("end") != "" {
			logrus.Debugf("Error parsing date range %q - %q", r.FormValue("start"), r.FormValue("end"))
		}
		return startDate, endDate
	}
	return start.UTC().Format(LayoutDB), end.UTC().Format(LayoutDB)
}

func StartAndEndDateToTime(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(LayoutDB, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(LayoutDB, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
