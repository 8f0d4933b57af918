package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/bh1750"
	"github.com/ztkent/lux-meter/internal/config"
	"github.com/ztkent/lux-meter/internal/i2c"
	lm "github.com/ztkent/lux-meter/internal/lightmeter"
	"github.com/ztkent/lux-meter/internal/tools"
	"golang.org/x/sync/errgroup"
)

/*
	This is the entry point for the Lux Meter application.
	It should be running at startup, on a Raspberry Pi, with a BH1750 sensor on the I2C bus.
*/

func main() {
	configPath := flag.String("config", "", "path to the config file (default "+config.DefaultConfigFile+" if present)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	l, logFile, err := tools.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		logrus.Fatalf("Failed to open log: %v", err)
	}
	defer logFile.Close()
	bh1750.SetLogger(l)

	pid := os.Getpid()
	l.Infof("LuxMeter [%d]", pid)

	recordInterval, err := cfg.RecordInterval()
	if err != nil {
		l.Fatal(err)
	}

	// connect to the sqlite database
	db, err := tools.ConnectSqlite(cfg.DBPath)
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		l.Fatalf("Failed to connect to the sqlite database: %v", err)
	}
	defer db.Close()
	store, err := lm.NewStore(db)
	if err != nil {
		l.Fatalf("Failed to load settings: %v", err)
	}

	// connect to the lux sensor, the service still runs without one
	meter := &lm.LMeter{
		Store:          store,
		LuxResultsChan: make(chan lm.LuxResults),
		Log:            l,
		DBPath:         cfg.DBPath,
		RecordInterval: recordInterval,
		Pid:            pid,
	}
	bus, err := i2c.Open(cfg.I2C)
	if err != nil {
		l.Errorf("Failed to open the %s i2c bus: %v", cfg.I2C.Backend, err)
	} else {
		defer bus.Close()
		meter.Registry = i2c.NewRegistry(l)
		sensor := bh1750.New(bus, meter.Registry, store)
		if err := sensor.Detect(); err != nil {
			l.Warnf("Failed to connect to the BH1750 sensor: %v", err)
		}
		meter.Sensor = sensor
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.Logger)
	r.Use(handleServerPanic)
	defineRoutes(r, meter)

	server := &http.Server{Addr: cfg.Addr(), Handler: r}
	g, gctx := errgroup.WithContext(ctx)

	// Listen for any result messages from our sessions, record them in sqlite
	g.Go(func() error { return meter.MonitorAndRecordResults(gctx) })

	// Tick the sensor every second from start, recording or not
	if meter.Sensor != nil && meter.Sensor.IsDetected() {
		g.Go(func() error { return meter.Poll(gctx) })
	}

	if cfg.Meter.Autostart {
		if err := meter.StartSession(); err != nil {
			l.Warnf("Autostart skipped: %v", err)
		}
	}

	g.Go(func() error {
		var err error
		if cfg.HTTP.SSL {
			// Generate a self-signed certificate if one doesn't exist
			if err := tools.EnsureCertificate(cfg.HTTP.CertFile, cfg.HTTP.KeyFile); err != nil {
				return fmt.Errorf("failed to create certificate: %w", err)
			}
			l.Infof("Starting HTTPS server on %s", server.Addr)
			err = server.ListenAndServeTLS(cfg.HTTP.CertFile, cfg.HTTP.KeyFile)
		} else {
			l.Infof("Starting HTTP server on %s", server.Addr)
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Errorf("LuxMeter stopped: %v", err)
		return
	}
	l.Info("LuxMeter stopped")
}

func defineRoutes(r *chi.Mux, meter *lm.LMeter) {
	// Lux Meter Dashboard Controls
	r.Get("/", meter.ServeDashboard())
	r.Route("/lightmeter", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/signal-strength", meter.SignalStrength())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/export", meter.ServeResultsDB())
		r.Post("/graph", meter.ServeResultsGraph())
		r.Get("/controls", meter.ServeControls())
		r.Get("/status", meter.ServeSensorStatus())
		r.Get("/sensor", meter.ServeWebSensor())
		r.Post("/results", meter.ServeResultsTab())
		r.Get("/clear", meter.Clear())
		r.With(tools.CheckInNetwork).Get("/sensor10", meter.Command())
	})

	// Tasmota style command endpoint
	r.With(tools.CheckInNetwork).Get("/cm", meter.Command())

	// Lux Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/status", meter.Telemetry())
		r.Get("/signal-strength", meter.SignalStrength())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/export", meter.ServeResultsDB())
		r.With(tools.CheckInNetwork).Get("/sensor10", meter.Command())
	})

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string   `json:"service_name"`
			Pid         int      `json:"pid"`
			Sensors     []string `json:"sensors"`
		}{
			ServiceName: "Lux Meter",
			Pid:         meter.Pid,
			Sensors:     []string{},
		}
		if meter.Registry != nil {
			response.Sensors = meter.Registry.Found()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				lm.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
