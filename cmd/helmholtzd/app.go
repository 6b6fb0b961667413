package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/helmholtz/internal/api"
	"github.com/banshee-data/helmholtz/internal/coil"
	"github.com/banshee-data/helmholtz/internal/config"
	"github.com/banshee-data/helmholtz/internal/db"
	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/monitor"
	"github.com/banshee-data/helmholtz/internal/monitoring"
	"github.com/banshee-data/helmholtz/internal/relay"
	"github.com/banshee-data/helmholtz/internal/serialmux"
	"github.com/banshee-data/helmholtz/internal/supply"
	"github.com/banshee-data/helmholtz/internal/version"
)

type options struct {
	ConfigPath string
	Listen     string
	DBPath     string
	Profile    string
	Units      string
	Dev        bool
	History    int
}

// connection is where and how to reach one instrument.
type connection struct {
	Address string
	Options serialmux.PortOptions
}

type lineMux = serialmux.SerialMux[serialmux.SerialPorter]

type app struct {
	opts     options
	cfg      *config.CoilConfig
	database *db.DB

	relayMux  *lineMux
	sourceMux *lineMux
	// set in dev mode only
	relaySim  *relay.Simulator
	supplySim *supply.Simulator

	ctrl     *coil.Controller
	recorder *monitor.Recorder
	mux      *http.ServeMux
	logf     func(format string, v ...interface{})

	// ready is closed once the current source has been initialised.
	ready chan struct{}
}

// newApp loads configuration, opens the database and both instruments, and
// builds the controller and HTTP routes. Nothing talks to the hardware until
// run.
func newApp(o options) (_ *app, err error) {
	a := &app{opts: o, logf: monitoring.Named("helmholtzd"), ready: make(chan struct{})}
	a.logf("%s starting", version.String())
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.close())
		}
	}()

	a.cfg, err = config.LoadCoilConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	if o.DBPath != "" {
		if a.database, err = db.NewDB(o.DBPath); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	cal, limits, err := resolveCalibration(a.cfg, a.database, o.Profile)
	if err != nil {
		return nil, err
	}
	relayConn, sourceConn, err := resolveConnections(a.cfg, a.database)
	if err != nil {
		return nil, err
	}

	relayOpener, sourceOpener := serialmux.DefaultOpener, serialmux.DefaultOpener
	if o.Dev {
		a.relaySim = relay.NewSimulator()
		a.supplySim = supply.NewSimulator()
		relayOpener = simulatedOpener(a.relaySim.Respond)
		sourceOpener = simulatedOpener(a.supplySim.Respond)
		a.logf("dev mode: relay and current source are simulated")
	}

	if a.relayMux, err = serialmux.Open("relay", relayConn.Address, relayConn.Options, relayOpener); err != nil {
		return nil, err
	}
	a.logf("relay on %s (%s)", relayConn.Address, relayConn.Options)
	if a.sourceMux, err = serialmux.Open("source", sourceConn.Address, sourceConn.Options, sourceOpener); err != nil {
		return nil, err
	}
	a.logf("current source on %s (%s)", sourceConn.Address, sourceConn.Options)
	a.sourceMux.SetInitCommands(supply.InitCommands(a.cfg.GetVoltageMax())...)

	a.ctrl, err = coil.NewController(supply.New(a.sourceMux), relay.New(a.relayMux), coil.Config{
		Calibration: cal,
		Limits:      limits,
		StepTimeout: a.cfg.GetCommandTimeout(),
	})
	if err != nil {
		return nil, err
	}
	a.recorder = monitor.NewRecorder(o.History)

	a.mux = api.NewServer(api.Options{
		Controller: a.ctrl,
		DB:         a.database,
		Recorder:   a.recorder,
		Units:      o.Units,
		SettleWait: a.cfg.GetSettleWait(),
		Profile:    o.Profile,
	}).ServeMux()
	a.relayMux.SetGuard(a.ctrl)
	a.sourceMux.SetGuard(a.ctrl)
	a.relayMux.AttachAdminRoutes(a.mux)
	a.sourceMux.AttachAdminRoutes(a.mux)
	a.recorder.AttachAdminRoutes(a.mux)
	if a.database != nil {
		if err := a.database.AttachAdminRoutes(a.mux); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// simulatedOpener ignores the address and serves replies from respond.
func simulatedOpener(respond func(string) []string) serialmux.PortOpener {
	return func(string, serialmux.PortOptions) (serialmux.SerialPorter, error) {
		return serialmux.NewLinePort(respond), nil
	}
}

// resolveCalibration returns the named profile's coefficients and limits, or
// the config file's when no profile is named.
func resolveCalibration(cfg *config.CoilConfig, database *db.DB, profile string) (field.Calibration, field.AxisLimits, error) {
	if profile == "" {
		cal, err := cfg.GetCalibration()
		return cal, cfg.GetLimits(), err
	}
	if database == nil {
		return field.Calibration{}, field.AxisLimits{}, fmt.Errorf("calibration profile %q requires a database", profile)
	}
	p, err := database.GetCalibrationProfileByName(profile)
	if err != nil {
		return field.Calibration{}, field.AxisLimits{}, err
	}
	if p == nil {
		return field.Calibration{}, field.AxisLimits{}, fmt.Errorf("calibration profile %q not found", profile)
	}
	monitoring.Logf("using calibration profile %q (id %d)", p.Name, p.ID)
	return p.Calibration, p.Limits, nil
}

// resolveConnections starts from the config file and applies any enabled
// device config stored in the database.
func resolveConnections(cfg *config.CoilConfig, database *db.DB) (relayConn, sourceConn connection, err error) {
	relayConn = connection{cfg.GetRelayPort(), cfg.GetRelayOptions()}
	sourceConn = connection{cfg.GetSourceAddress(), cfg.GetSourceOptions()}
	if database == nil {
		return relayConn, sourceConn, nil
	}

	for _, d := range []struct {
		role db.DeviceRole
		conn *connection
	}{
		{db.RoleRelay, &relayConn},
		{db.RoleCurrentSource, &sourceConn},
	} {
		dc, err := database.GetEnabledDeviceConfig(d.role)
		if err != nil {
			return relayConn, sourceConn, err
		}
		if dc == nil {
			continue
		}
		monitoring.Logf("using stored %s config %q: %s", d.role, dc.Name, dc.PortPath)
		*d.conn = connection{dc.PortPath, dc.Options()}
	}
	return relayConn, sourceConn, nil
}

// run starts the line monitors, initialises the source, and serves HTTP
// until ctx is done. It then disables the outputs before closing the
// instruments, so the monitors outlive the HTTP server.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	monitorCtx, stopMonitors := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMonitors()

	for _, m := range []*lineMux{a.relayMux, a.sourceMux} {
		g.Go(func() error {
			if err := m.Monitor(monitorCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s monitor: %w", m.Name(), err)
			}
			a.logf("%s monitor routine terminated", m.Name())
			return nil
		})
	}

	if err := a.sourceMux.Initialize(); err != nil {
		stopMonitors()
		return multierr.Combine(fmt.Errorf("failed to initialise current source: %w", err), g.Wait(), a.close())
	}
	close(a.ready)

	g.Go(func() error {
		a.recorder.Run(gctx, a.ctrl.Hub())
		return nil
	})

	if interval := a.cfg.GetStatePollInterval(); interval > 0 {
		g.Go(func() error {
			if err := a.ctrl.WatchMagnetState(gctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	server := &http.Server{
		Addr:    a.opts.Listen,
		Handler: api.LoggingMiddleware(a.mux),
	}
	g.Go(func() error {
		a.logf("listening on %s", a.opts.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logf("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logf("HTTP server shutdown error: %v", err)
			server.Close()
		}

		err := a.ctrl.Shutdown(context.Background())
		if err != nil {
			a.logf("coil shutdown: %v", err)
		}
		a.ctrl.Hub().Close()
		stopMonitors()
		return err
	})

	return multierr.Append(g.Wait(), a.close())
}

// close releases the instruments and the database.
func (a *app) close() error {
	var err error
	if a.relayMux != nil {
		err = multierr.Append(err, a.relayMux.Close())
	}
	if a.sourceMux != nil {
		err = multierr.Append(err, a.sourceMux.Close())
	}
	if a.database != nil {
		err = multierr.Append(err, a.database.Close())
	}
	return err
}
