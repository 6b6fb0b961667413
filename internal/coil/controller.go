// Package coil orchestrates the tri-axial Helmholtz coil: it converts a target
// field into per-axis currents, sets the polarity relay, drives the current
// source, reads the realised currents back and reconstructs the field.
//
// The Controller is the only user of its CurrentSource and Relay. Every entry
// point that touches hardware holds one mutex for its whole sequence, so two
// callers never interleave adapter calls.
package coil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/monitoring"
	"github.com/banshee-data/helmholtz/internal/polarity"
	"github.com/banshee-data/helmholtz/internal/timeutil"
)

// DefaultStepTimeout bounds each adapter call when Config.StepTimeout is zero.
const DefaultStepTimeout = 3 * time.Second

// Reading is the result of one completed set-field cycle.
type Reading struct {
	ID     string            `json:"id"`
	Target field.FieldVector `json:"target"`
	// Commanded holds the signed currents after clipping.
	Commanded field.CurrentTriple `json:"commanded"`
	// Currents holds the measured magnitudes signed by the confirmed polarity.
	Currents          field.CurrentTriple `json:"currents"`
	Field             field.FieldVector   `json:"field"`
	Clipped           field.Clips         `json:"clipped_axes"`
	CommandedPolarity polarity.Code       `json:"commanded_polarity"`
	Polarity          polarity.Code       `json:"polarity"`
	SettleWait        time.Duration       `json:"settle_wait"`
	CompletedAt       time.Time           `json:"completed_at"`
}

// Config holds the controller's calibration and collaborators.
type Config struct {
	Calibration field.Calibration
	Limits      field.AxisLimits
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// StepTimeout bounds each adapter call. Defaults to DefaultStepTimeout.
	StepTimeout time.Duration
	// Hub receives readings and magnet state changes. A new Hub is created
	// when nil.
	Hub *Hub
}

// Controller owns the current source and the relay.
type Controller struct {
	source      CurrentSource
	relay       Relay
	cal         field.Calibration
	limits      field.AxisLimits
	clock       timeutil.Clock
	stepTimeout time.Duration
	hub         *Hub
	logf        func(format string, v ...interface{})

	// mu serialises every hardware sequence.
	mu sync.Mutex

	stateMu     sync.RWMutex
	state       State
	magnet      MagnetState
	lastReading *Reading
	lastErr     error
}

// NewController validates cfg and returns an idle controller. It does not
// talk to the hardware; the cached magnet state starts as MagnetUnknown.
func NewController(source CurrentSource, relay Relay, cfg Config) (*Controller, error) {
	if source == nil {
		return nil, errors.New("coil: current source is required")
	}
	if relay == nil {
		return nil, errors.New("coil: relay is required")
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("coil: calibration: %w", err)
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("coil: current limits: %w", err)
	}

	c := &Controller{
		source:      source,
		relay:       relay,
		cal:         cfg.Calibration,
		limits:      cfg.Limits,
		clock:       cfg.Clock,
		stepTimeout: cfg.StepTimeout,
		hub:         cfg.Hub,
		logf:        monitoring.Named("coil"),
		state:       StateIdle,
		magnet:      MagnetUnknown,
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.stepTimeout <= 0 {
		c.stepTimeout = DefaultStepTimeout
	}
	if c.hub == nil {
		c.hub = NewHub(0)
	}
	return c, nil
}

// Hub returns the notification hub.
func (c *Controller) Hub() *Hub { return c.hub }

// Calibration returns the coefficients fixed at construction.
func (c *Controller) Calibration() field.Calibration { return c.cal }

// Limits returns the per-axis current limits.
func (c *Controller) Limits() field.AxisLimits { return c.limits }

// State returns the cycle state.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// CachedMagnetState returns the last observed magnet state without querying
// the source.
func (c *Controller) CachedMagnetState() MagnetState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.magnet
}

// LastReading returns the reading of the last successful cycle.
func (c *Controller) LastReading() (Reading, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.lastReading == nil {
		return Reading{}, false
	}
	return *c.lastReading, true
}

// LastError returns the error of the last cycle, or nil if it succeeded.
func (c *Controller) LastError() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastErr
}

// SetField runs one full set/confirm/read cycle and returns the realised
// reading. settle is the wait between writing and measuring the currents and
// blocks the calling goroutine. Caller cancellation does not interrupt a
// started cycle; each adapter call is bounded by the step timeout instead.
func (c *Controller) SetField(ctx context.Context, target field.FieldVector, settle time.Duration) (Reading, error) {
	if !target.Finite() {
		return Reading{}, &StageError{Kind: ErrInvalidTarget, Stage: StageConvert, Err: fmt.Errorf("target %v has non-finite components", target)}
	}
	if settle < 0 {
		return Reading{}, &StageError{Kind: ErrInvalidTarget, Stage: StageConvert, Err: fmt.Errorf("negative settle wait %v", settle)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(StateSetting)
	reading, err := c.runCycleLocked(context.WithoutCancel(ctx), target, settle)

	c.stateMu.Lock()
	c.state = StateReady
	c.lastErr = err
	if err == nil {
		r := reading
		c.lastReading = &r
	}
	c.stateMu.Unlock()

	if err != nil {
		c.logf("set field %v failed: %v", target, err)
		return Reading{}, err
	}

	published := reading
	c.hub.Publish(Event{Kind: EventReading, At: reading.CompletedAt, Reading: &published, MagnetState: c.CachedMagnetState()})
	return reading, nil
}

func (c *Controller) runCycleLocked(ctx context.Context, target field.FieldVector, settle time.Duration) (Reading, error) {
	if err := c.ensureOnLocked(ctx); err != nil {
		return Reading{}, err
	}

	commanded, clips := c.cal.Currents(target, c.limits)
	for _, ce := range clips {
		c.logf("current %s", ce)
	}

	code := polarity.Encode(commanded)
	confirmed, err := c.confirmPolarityLocked(ctx, code)
	if err != nil {
		return Reading{}, err
	}

	if err := c.callStep(ctx, func(sctx context.Context) error {
		return c.source.SetChannelCurrents(sctx, commanded.Abs())
	}); err != nil {
		return Reading{}, hardwareError(StageCurrentWrite, err)
	}

	c.clock.Sleep(settle)

	var measured field.CurrentTriple
	if err := c.callStep(ctx, func(sctx context.Context) error {
		var err error
		measured, err = c.source.ReadChannelCurrents(sctx)
		return err
	}); err != nil {
		return Reading{}, hardwareError(StageCurrentRead, err)
	}
	for _, a := range field.Axes {
		if v := measured.Get(a); math.IsNaN(v) || math.IsInf(v, 0) {
			return Reading{}, axisError(ErrHardware, StageCurrentRead, a, fmt.Errorf("non-finite measurement %v", v))
		}
	}

	signed := polarity.Decode(confirmed).Apply(measured)
	realised, err := c.cal.Field(signed)
	if err != nil {
		return Reading{}, &StageError{Kind: ErrDomain, Stage: StageReconstruct, Err: err}
	}

	return Reading{
		ID:                uuid.NewString(),
		Target:            target,
		Commanded:         commanded,
		Currents:          signed,
		Field:             realised,
		Clipped:           clips,
		CommandedPolarity: code,
		Polarity:          confirmed,
		SettleWait:        settle,
		CompletedAt:       c.clock.Now(),
	}, nil
}

// ensureOnLocked turns the output on unless the source already reports ON.
// An UNKNOWN observation must be resolved before a field can be set.
func (c *Controller) ensureOnLocked(ctx context.Context) error {
	state, err := c.queryMagnetLocked(ctx)
	if err != nil {
		return hardwareError(StageMagnetQuery, err)
	}
	switch state {
	case MagnetOn:
		return nil
	case MagnetUnknown:
		return stateError(StageMagnetQuery, "magnet state is %s; resolve it before setting a field", state)
	}

	if err := c.callStep(ctx, c.source.EnableOutput); err != nil {
		return hardwareError(StageEnable, err)
	}
	after, err := c.queryMagnetLocked(ctx)
	if err != nil {
		return hardwareError(StageEnable, err)
	}
	c.publishMagnet(after)
	if after != MagnetOn && after != MagnetSetting {
		return hardwareError(StageEnable, fmt.Errorf("source reports %s after enable", after))
	}
	return nil
}

// confirmPolarityLocked commands the relay and returns its read-back, which
// is the only code trusted for sign reconstruction.
func (c *Controller) confirmPolarityLocked(ctx context.Context, code polarity.Code) (polarity.Code, error) {
	var reported polarity.Code
	if err := c.callStep(ctx, func(sctx context.Context) error {
		var err error
		reported, err = c.relay.SetPolarity(sctx, code)
		return err
	}); err != nil {
		return "", hardwareError(StageRelaySet, err)
	}

	var confirmed polarity.Code
	if err := c.callStep(ctx, func(sctx context.Context) error {
		var err error
		confirmed, err = c.relay.Polarity(sctx)
		return err
	}); err != nil {
		return "", hardwareError(StageRelayRead, err)
	}
	if !confirmed.Valid() {
		return "", hardwareError(StageRelayRead, fmt.Errorf("relay reported invalid code %q", confirmed))
	}
	if confirmed != code || reported != confirmed {
		c.logf("relay read-back %s differs from commanded %s (set reply %q); using read-back", confirmed, code, reported)
	}
	return confirmed, nil
}

// SetMagnetState commands the source output state. MagnetUnknown is rejected
// without touching the hardware or the cache. Otherwise the source is
// re-queried afterwards and the observed state is published whether or not it
// changed. An adapter failure is logged and returned, but the observed state
// is still cached and published.
func (c *Controller) SetMagnetState(ctx context.Context, s MagnetState) (MagnetState, error) {
	if s == MagnetUnknown || s < MagnetOff || s > MagnetUnknown {
		c.logf("rejected magnet state command %q", s)
		return c.CachedMagnetState(), stateError(StageSetMagnet, "%s is not a valid command target", s)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	var result error
	if err := c.callStep(ctx, func(sctx context.Context) error {
		return c.source.SetMagnetState(sctx, s)
	}); err != nil {
		c.logf("error while setting magnet state %s: %v", s, err)
		result = hardwareError(StageSetMagnet, err)
	}

	observed, err := c.queryMagnetLocked(ctx)
	if err != nil {
		c.logf("error while reading magnet state: %v", err)
		if result == nil {
			result = hardwareError(StageMagnetQuery, err)
		}
	}
	c.publishMagnet(observed)
	return observed, result
}

// GetMagnetState re-queries the source, refreshes the cache and publishes
// when the observed state changed.
func (c *Controller) GetMagnetState(ctx context.Context) (MagnetState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.CachedMagnetState()
	observed, err := c.queryMagnetLocked(context.WithoutCancel(ctx))
	if observed != before {
		c.publishMagnet(observed)
	}
	if err != nil {
		return observed, hardwareError(StageMagnetQuery, err)
	}
	return observed, nil
}

// Polarity reads the relay's current code.
func (c *Controller) Polarity(ctx context.Context) (polarity.Code, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var code polarity.Code
	if err := c.callStep(context.WithoutCancel(ctx), func(sctx context.Context) error {
		var err error
		code, err = c.relay.Polarity(sctx)
		return err
	}); err != nil {
		return "", hardwareError(StageRelayRead, err)
	}
	return code, nil
}

// Exclusive runs fn under the controller lock and the step timeout, so
// out-of-band device traffic such as a debug console command never lands
// inside a cycle. The magnet state is re-queried afterwards because fn may
// have switched the output.
func (c *Controller) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.callStep(ctx, fn)

	before := c.CachedMagnetState()
	observed, qerr := c.queryMagnetLocked(context.WithoutCancel(ctx))
	if qerr != nil {
		c.logf("magnet state after console command: %v", qerr)
	}
	if observed != before {
		c.publishMagnet(observed)
	}
	return err
}

// WatchMagnetState polls the source every interval until ctx is done,
// publishing whenever the observed state changes.
func (c *Controller) WatchMagnetState(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("coil: poll interval must be positive, got %v", interval)
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := c.GetMagnetState(ctx); err != nil {
				c.logf("magnet state poll: %v", err)
			}
		}
	}
}

// Shutdown disables the outputs and verifies that the source reads back OFF.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	disableErr := c.callStep(ctx, c.source.DisableOutput)
	observed, queryErr := c.queryMagnetLocked(ctx)
	c.publishMagnet(observed)
	c.setState(StateIdle)

	switch {
	case disableErr != nil:
		return hardwareError(StageDisable, disableErr)
	case queryErr != nil:
		return hardwareError(StageShutdownCheck, queryErr)
	case observed != MagnetOff:
		return hardwareError(StageShutdownCheck, fmt.Errorf("outputs may not be disabled: source reports %s", observed))
	}
	c.logf("outputs disabled")
	return nil
}

// queryMagnetLocked reads the source state into the cache. A failed read is
// cached as MagnetUnknown.
func (c *Controller) queryMagnetLocked(ctx context.Context) (MagnetState, error) {
	var observed MagnetState
	err := c.callStep(ctx, func(sctx context.Context) error {
		var err error
		observed, err = c.source.MagnetState(sctx)
		return err
	})
	if err != nil {
		observed = MagnetUnknown
	}
	c.stateMu.Lock()
	c.magnet = observed
	c.stateMu.Unlock()
	return observed, err
}

func (c *Controller) publishMagnet(s MagnetState) {
	c.hub.Publish(Event{Kind: EventMagnetState, At: c.clock.Now(), MagnetState: s})
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// callStep runs one adapter call under the step timeout.
func (c *Controller) callStep(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()
	return fn(sctx)
}
