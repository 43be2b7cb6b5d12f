package machine

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/coord"
)

var (
	// ErrPositionUnknown is returned when no telemetry has been received yet.
	ErrPositionUnknown = errors.New("position unknown")
	// ErrInvalidDistance is returned for zero, negative, or non-finite distances.
	ErrInvalidDistance = errors.New("distance must be a positive number")
	// ErrSensorModeAxis is returned when a sensor mode is given for a lift move.
	ErrSensorModeAxis = errors.New("sensor mode only applies to horizontal moves")
	// ErrSensorModeUnsupported is returned when a sensor mode is given in incremental mode.
	ErrSensorModeUnsupported = errors.New("sensor mode not supported by full-target commands")
	// ErrNoTelemetry is returned when no frame arrives within the read timeout.
	ErrNoTelemetry = errors.New("no telemetry received")
	// ErrNoGripper is returned by Actuate when no gripper link is configured.
	ErrNoGripper = errors.New("gripper link not configured")
	// ErrTargetNotReached matches any *TargetNotReachedError.
	ErrTargetNotReached = errors.New("target not reached")
)

// TargetNotReachedError is returned when telemetry never confirms a move
// within the attempt or time limit.
type TargetNotReachedError struct {
	Command  Command
	Last     coord.Point
	Known    bool
	Attempts int
	Elapsed  time.Duration
}

func (e *TargetNotReachedError) Error() string {
	last := "unknown"
	if e.Known {
		last = fmt.Sprintf("%.4f", e.Last.Axis(e.Command.Axis))
	}
	return fmt.Sprintf("target not reached: %s=%.4f, last=%s after %d attempts (%s)",
		e.Command.Axis, e.Command.Target.Axis(e.Command.Axis), last, e.Attempts, e.Elapsed)
}

func (e *TargetNotReachedError) Is(target error) bool { return target == ErrTargetNotReached }
