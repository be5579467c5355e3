// Command trident is the ROV flight-control firmware daemon: it drives
// the sensor poll loops, the stabilization control tick, the thruster
// output loop, and the operator WebSocket link from one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arobi/trident/internal/autotune"
	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/metrics"
	"github.com/arobi/trident/internal/operator"
	"github.com/arobi/trident/internal/regulator"
	"github.com/arobi/trident/internal/sensors"
	"github.com/arobi/trident/internal/serial"
	"github.com/arobi/trident/internal/state"
	"github.com/arobi/trident/internal/thruster"
	"github.com/arobi/trident/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// trident owns every subsystem's lifecycle: Initialize wires them
// together, Start launches their loops, Shutdown tears them down in
// reverse order.
type trident struct {
	log *logrus.Logger

	cfgMgr    *config.Manager
	vehicle   *state.Vehicle
	transport *serial.Transport

	imu      *sensors.ImuReader
	pressure *sensors.PressureReader
	esc      *sensors.EscReader
	reg      *regulator.Regulator
	tuner    *autotune.Tuner
	sender   *thruster.Sender

	auth      *operator.Authenticator
	opServer  *operator.Server
	publisher *operator.Publisher

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	app := &cli.App{
		Name:    "trident",
		Usage:   "ROV flight-control firmware daemon",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./trident.config.json", Usage: "path to the persisted vehicle configuration"},
			&cli.StringFlag{Name: "serial-port", Value: "/dev/ttyACM0", Usage: "serial port the thruster microcontroller is attached to"},
			&cli.IntFlag{Name: "serial-baud", Value: 115200, Usage: "serial baud rate"},
			&cli.StringFlag{Name: "http-addr", Value: "127.0.0.1:8090", Usage: "address the operator WebSocket and diagnostics HTTP server bind to"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"},
			&cli.BoolFlag{Name: "sim", Value: false, Usage: "run against simulated (zero-reading) sensor and microcontroller drivers instead of real hardware"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := utils.NewLogger(c.String("log-level"), "stdout")

	t := &trident{log: log}
	if err := t.Initialize(c); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	t.Start()

	log.WithFields(logrus.Fields{"version": version, "commit": gitCommit, "built": buildTime}).Info("trident firmware operational")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	t.Shutdown()
	log.Info("shutdown complete")
	return nil
}

// Initialize constructs every subsystem without starting the control,
// sensor or publish loops. It does start the config file watcher and,
// outside simulation, opens the serial port; a failure after those steps
// returns without stopping the watcher or closing the port.
func (t *trident) Initialize(c *cli.Context) error {
	sim := c.Bool("sim")
	loopbackOnly := isLoopback(c.String("http-addr"))

	cfgMgr, err := config.NewManager(c.String("config"), t.log)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfgMgr.Watch(); err != nil {
		t.log.WithError(err).Warn("config file watch failed, hot-reload disabled")
	}
	t.cfgMgr = cfgMgr
	t.vehicle = state.New(cfgMgr)

	t.transport = serial.New(c.String("serial-port"), c.Int("serial-baud"))
	if !sim {
		if err := t.transport.Open(); err != nil {
			return fmt.Errorf("open serial transport: %w", err)
		}
		t.vehicle.WithLock(func(vv *state.Vehicle) { vv.Health.MicrocontrollerOK = true })
	}

	// No vendor IMU/pressure-transducer SDK ships in this repo (see
	// sensors.ImuDriver / sensors.PressureDriver); production builds
	// substitute a concrete binding here.
	var imuDriver sensors.ImuDriver = placeholderImuDriver{}
	var pressureDriver sensors.PressureDriver = placeholderPressureDriver{}
	t.imu = sensors.NewImuReader(t.log, imuDriver)
	t.pressure = sensors.NewPressureReader(t.log, pressureDriver, func() string { return t.vehicle.Config().FluidType })
	t.esc = sensors.NewEscReader(t.log, t.transport)

	t.reg = regulator.New(t.log)
	t.tuner = autotune.New(t.log)
	t.sender = thruster.NewSender(t.log, t.transport, t.reg, t.tuner)

	auth, err := operator.NewAuthenticator(loopbackOnly)
	if err != nil {
		return fmt.Errorf("operator authenticator: %w", err)
	}
	t.auth = auth
	t.opServer = operator.New(t.log, t.auth, t.vehicle, t.tuner, version)
	t.publisher = operator.NewPublisher(t.opServer, t.vehicle, t.tuner)

	t.httpServer = &http.Server{Addr: c.String("http-addr"), Handler: t.router()}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	return nil
}

// router mounts the operator WebSocket endpoint alongside the process
// diagnostics (/healthz, /metrics) an operator console or a monitoring
// scraper polls independently of the WebSocket link.
func (t *trident) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws/operator", t.opServer.HandleWebSocket)

	return r
}

// Start launches every subsystem's loop in its own goroutine.
func (t *trident) Start() {
	loops := []func(context.Context){
		func(ctx context.Context) { t.imu.Run(ctx, t.vehicle) },
		func(ctx context.Context) { t.pressure.Run(ctx, t.vehicle) },
		func(ctx context.Context) { t.esc.Run(ctx, t.vehicle) },
		func(ctx context.Context) { t.sender.Run(ctx, t.vehicle) },
		func(ctx context.Context) { t.publisher.Run(ctx) },
	}
	for _, loop := range loops {
		t.wg.Add(1)
		go func(loop func(context.Context)) {
			defer t.wg.Done()
			loop(t.ctx)
		}(loop)
	}

	go func() {
		t.log.WithField("addr", t.httpServer.Addr).Info("operator HTTP/WebSocket server listening")
		if err := t.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.log.WithError(err).Error("operator HTTP server error")
		}
	}()
}

// Shutdown stops the loops, closes the operator connection and the
// serial link, and waits for every goroutine to return.
func (t *trident) Shutdown() {
	t.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := t.httpServer.Shutdown(shutdownCtx); err != nil {
		t.log.WithError(err).Warn("http server shutdown error")
	}
	t.opServer.Shutdown()

	t.wg.Wait()

	if err := t.transport.Close(); err != nil {
		t.log.WithError(err).Warn("serial transport close error")
	}
	if err := t.cfgMgr.Close(); err != nil {
		t.log.WithError(err).Warn("config watcher close error")
	}
}

// isLoopback reports whether the text of addr before its last colon is
// "127.0.0.1", "localhost", "::1" or empty, the condition under which the
// operator authenticator may fall back to its built-in development
// secret. It compares text only: a bracketed IPv6 host such as
// "[::1]:8080" is not recognised, and an empty host (":8080") counts.
func isLoopback(addr string) bool {
	host := addr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host = addr[:i]
			break
		}
	}
	switch host {
	case "127.0.0.1", "localhost", "::1", "":
		return true
	default:
		return false
	}
}

// placeholderImuDriver and placeholderPressureDriver stand in for the
// vendor sensor SDKs this repo does not vendor: always-healthy zero
// readings, so the rest of the control pipeline can be exercised without
// hardware attached.
type placeholderImuDriver struct{}

func (placeholderImuDriver) Read() (sensors.ImuSample, error) {
	return sensors.ImuSample{}, nil
}

type placeholderPressureDriver struct{}

func (placeholderPressureDriver) Read(fluidType string) (sensors.PressureSample, error) {
	return sensors.PressureSample{}, nil
}
