package coil

import (
	"errors"
	"fmt"

	"github.com/banshee-data/helmholtz/internal/field"
)

var (
	// ErrHardware marks a failed or timed out adapter call.
	ErrHardware = errors.New("hardware error")
	// ErrDomain marks a field reconstruction with no spherical form.
	ErrDomain = errors.New("domain error")
	// ErrInvalidState marks a command that the magnet state forbids.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTarget marks a target field with non-finite components.
	ErrInvalidTarget = errors.New("invalid target")
)

// Stage names one step of the controller's hardware sequence.
type Stage string

const (
	StageMagnetQuery   Stage = "magnet-query"
	StageEnable        Stage = "enable-output"
	StageDisable       Stage = "disable-output"
	StageSetMagnet     Stage = "set-magnet-state"
	StageConvert       Stage = "convert"
	StageRelaySet      Stage = "relay-set"
	StageRelayRead     Stage = "relay-read"
	StageCurrentWrite  Stage = "current-write"
	StageCurrentRead   Stage = "current-read"
	StageReconstruct   Stage = "reconstruct"
	StageShutdownCheck Stage = "shutdown-check"
)

// StageError carries where a cycle failed. Kind is one of the Err* sentinels
// and is matched by errors.Is; Err is the underlying adapter or maths error.
type StageError struct {
	Kind  error
	Stage Stage
	// Axis is set when the failure concerns a single axis.
	Axis *field.Axis
	Err  error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%v at %s", e.Kind, e.Stage)
	if e.Axis != nil {
		msg += fmt.Sprintf(" (axis %s)", *e.Axis)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func hardwareError(stage Stage, err error) error {
	return &StageError{Kind: ErrHardware, Stage: stage, Err: err}
}

func stateError(stage Stage, format string, args ...any) error {
	return &StageError{Kind: ErrInvalidState, Stage: stage, Err: fmt.Errorf(format, args...)}
}

func axisError(kind error, stage Stage, a field.Axis, err error) error {
	return &StageError{Kind: kind, Stage: stage, Axis: &a, Err: err}
}
