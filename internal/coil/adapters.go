package coil

import (
	"context"

	"github.com/banshee-data/helmholtz/internal/field"
	"github.com/banshee-data/helmholtz/internal/polarity"
)

// CurrentSource drives the three coil channels. Channel currents are
// magnitudes; the sign of each axis is set by the Relay.
type CurrentSource interface {
	EnableOutput(ctx context.Context) error
	DisableOutput(ctx context.Context) error
	// SetChannelCurrents writes non-negative per-channel currents.
	SetChannelCurrents(ctx context.Context, c field.CurrentTriple) error
	// ReadChannelCurrents measures the per-channel currents. The values are
	// unsigned.
	ReadChannelCurrents(ctx context.Context) (field.CurrentTriple, error)
	MagnetState(ctx context.Context) (MagnetState, error)
	SetMagnetState(ctx context.Context, s MagnetState) error
}

// Relay switches the per-axis coil polarity.
type Relay interface {
	// SetPolarity commands the relay and returns the code it reports after
	// switching.
	SetPolarity(ctx context.Context, code polarity.Code) (polarity.Code, error)
	// Polarity reads the relay's current code.
	Polarity(ctx context.Context) (polarity.Code, error)
}
