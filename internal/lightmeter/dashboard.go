package lightmeter

import (
	"fmt"
	"html/template"
	"math"
	"net/http"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/ztkent/lux-meter/bh1750"
	"github.com/ztkent/lux-meter/internal/tools"
)

// Reference light levels drawn behind the lux series, ascending.
var lightLevels = []struct {
	Lux   int
	Title string
	Color string
}{
	{50, "Living Room", "DarkGrey"},
	{320, "Office", "WhiteSmoke"},
	{1000, "Overcast", "SkyBlue"},
	{10000, "Daylight", "Yellow"},
}

// Serve the sqlite db for download
func (m *LMeter) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := m.DBPath
		if path == "" {
			path = DB_PATH
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(path)))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, path)
	}
}

// Serve the homepage
func (m *LMeter) ServeDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := templateFiles.ReadFile("html/dashboard.html")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}
}

// Serve the controls for the sensor, start/stop/export/sensor10
func (m *LMeter) ServeControls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/controls.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tmpl.Execute(w, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Status of the sensor
func (m *LMeter) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/status.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type Status struct {
			Connected  bool
			Enabled    bool
			Resolution string
			MTime      uint8
		}
		status := Status{}
		if m.Sensor != nil && m.Sensor.IsDetected() {
			s := m.Sensor.Status()
			status.Connected = true
			status.Enabled = m.Running()
			status.Resolution = bh1750.ResolutionToString(s.Resolution)
			status.MTime = s.MTime
		}
		if err := tmpl.Execute(w, status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// The web sensor row, empty while the reading is stale
func (m *LMeter) ServeWebSensor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/sensor.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var row template.HTML
		if m.Sensor != nil && m.Sensor.IsDetected() {
			row = template.HTML(m.Sensor.Show(false))
		}
		if err := tmpl.Execute(w, row); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Serve the results graph
func (m *LMeter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startDate, endDate := tools.ParseStartAndEndDate(r, m.location())
		points, err := m.Store.History(startDate, endDate)
		if err != nil {
			m.log().WithError(err).Error("failed to query illuminance history")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		luxValues := make([]opts.LineData, 0, len(points))
		timeValues := make([]string, 0, len(points))
		maxLux := 100
		for _, p := range points {
			if p.Lux > float64(maxLux) {
				maxLux = niceCeiling(p.Lux)
			}
			luxValues = append(luxValues, opts.LineData{Value: p.Lux})
			timeValues = append(timeValues, p.CreatedAt.In(m.location()).Format(tools.LayoutDB))
		}

		line := charts.NewLine()
		for _, level := range lightLevels {
			if level.Lux > maxLux {
				continue
			}
			data := make([]opts.LineData, len(timeValues))
			for i := range data {
				data[i] = opts.LineData{Value: level.Lux}
			}
			line.AddSeries(level.Title, data, charts.WithLineChartOpts(opts.LineChart{
				Color: level.Color,
			}))
		}

		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme: types.ThemeChalk,
			}),
			charts.WithXAxisOpts(opts.XAxis{
				Name: "Time",
			}),
			charts.WithYAxisOpts(opts.YAxis{
				Name: "Lux",
				Min:  "0",
				Max:  fmt.Sprintf("%d", maxLux),
			}),
			charts.WithTooltipOpts(opts.Tooltip{
				Show:      true,
				Trigger:   "axis",
				TriggerOn: "mousemove",
			}),
			charts.WithToolboxOpts(opts.Toolbox{
				Show: true,
				Feature: &opts.ToolBoxFeature{
					SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
						Show:  true,
						Title: "Save as Image",
						Name:  "lux-meter",
					},
				},
			}),
		)
		line.SetXAxis(timeValues).AddSeries("Lux", luxValues)

		page := components.NewPage()
		page.AddCharts(line)

		w.Header().Set("Content-Type", "text/html")
		page.Render(w)
		// Trigger an update for the results tab
		w.Write([]byte(`<div id='resultUpdateTrigger' hx-post='/lightmeter/results' hx-include='#dateRange' hx-target='#resultsContent' hx-trigger='load'></div>`))
		w.Write([]byte(`<script>document.title = "Lux Meter";</script>`))
	}
}

// Update the info in the results tab
func (m *LMeter) ServeResultsTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startDate, endDate := tools.ParseStartAndEndDate(r, m.location())
		summary, err := m.Store.Summary(startDate, endDate)
		if err != nil {
			m.log().WithError(err).Error("failed to summarize illuminance history")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tmpl, err := parseTemplateFile("html/results.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type ResultsForDisplay struct {
			DateRange      string
			Readings       int
			RecordedHours  string
			AverageLux     string
			MinLux         string
			MaxLux         string
			LightCondition string
		}
		err = tmpl.Execute(w, ResultsForDisplay{
			DateRange:      fmt.Sprintf("%s - %s UTC", startDate, endDate),
			Readings:       summary.Count,
			RecordedHours:  fmt.Sprintf("%.2f", summary.RecordedHours),
			AverageLux:     fmt.Sprintf("%.2f", summary.AverageLux),
			MinLux:         fmt.Sprintf("%.2f", summary.MinLux),
			MaxLux:         fmt.Sprintf("%.2f", summary.MaxLux),
			LightCondition: LightCondition(summary),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// LightCondition names the reference level the average reading reached.
func LightCondition(s Summary) string {
	if s.Count == 0 {
		return "No Data in Range"
	}
	condition := "Dark"
	for _, level := range lightLevels {
		if s.AverageLux >= float64(level.Lux) {
			condition = level.Title
		}
	}
	return condition
}

// Used to clear a div with htmx
func (m *LMeter) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {}
}

// Round up to 1, 2 or 5 times a power of ten.
func niceCeiling(v float64) int {
	if v <= 0 {
		return 0
	}
	exp := math.Pow(10, math.Floor(math.Log10(v)))
	for _, step := range []float64{1, 2, 5, 10} {
		if v <= step*exp {
			return int(step * exp)
		}
	}
	return int(10 * exp)
}
