package machine

import (
	"fmt"
	"math"
	"strings"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/machine/ak80"
)

// Direction is a semantic move direction. Each direction moves exactly one axis.
type Direction int

const (
	Forward Direction = iota
	Backward
	Left
	Right
	Up
	Down
)

var directionNames = [...]string{"forward", "backward", "left", "right", "up", "down"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// ParseDirection accepts the lower-case direction names.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range directionNames {
		if name == s {
			return Direction(i), nil
		}
	}
	return 0, fmt.Errorf("invalid direction '%s', use forward, backward, left, right, up, or down", s)
}

// Axis returns the axis moved by d.
func (d Direction) Axis() coord.Axis {
	switch d {
	case Left, Right:
		return coord.AxisY
	case Up, Down:
		return coord.AxisZ
	}
	return coord.AxisX
}

// Sign is +1 for forward, left and up.
func (d Direction) Sign() float64 {
	switch d {
	case Backward, Right, Down:
		return -1
	}
	return 1
}

// Horizontal is true for directions that move the chassis rather than the lift.
func (d Direction) Horizontal() bool { return d.Axis() != coord.AxisZ }

// SensorMode lets the controller end a horizontal move early on a sensor trigger.
//
// The zero value leaves the mode out of the command entirely.
type SensorMode int

const (
	SensorUnset SensorMode = iota
	SensorNone
	SensorFront
	SensorBack
)

func (m SensorMode) String() string {
	switch m {
	case SensorUnset:
		return "unset"
	case SensorNone:
		return "none"
	case SensorFront:
		return "front"
	case SensorBack:
		return "back"
	}
	return fmt.Sprintf("SensorMode(%d)", int(m))
}

// code is the value sent on the wire.
func (m SensorMode) code() int { return int(m) - 1 }

// active is true when the controller may stop on a sensor.
func (m SensorMode) active() bool { return m == SensorFront || m == SensorBack }

// ParseSensorMode accepts names (none, front, back) or wire codes (0, 1, 2).
func ParseSensorMode(s string) (SensorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "no-sensor", "0":
		return SensorNone, nil
	case "front", "sensor-front", "1":
		return SensorFront, nil
	case "back", "sensor-back", "2":
		return SensorBack, nil
	}
	return SensorUnset, fmt.Errorf("invalid sensor mode '%s', use none, front, or back", s)
}

// ChassisMode selects which wheel set is engaged.
type ChassisMode int

const (
	ChassisStable ChassisMode = iota
	ChassisX
	ChassisY
)

func (c ChassisMode) String() string {
	switch c {
	case ChassisStable:
		return "stable"
	case ChassisX:
		return "x"
	case ChassisY:
		return "y"
	}
	return fmt.Sprintf("ChassisMode(%d)", int(c))
}

// Command returns the controller line for c.
func (c ChassisMode) Command() string { return ak80.FormatChassis(int(c)) }

// ParseChassisMode accepts stable, x, or y.
func ParseChassisMode(s string) (ChassisMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stable":
		return ChassisStable, nil
	case "x":
		return ChassisX, nil
	case "y":
		return ChassisY, nil
	}
	return 0, fmt.Errorf("invalid chassis mode '%s', use stable, x, or y", s)
}

// GripperCommand is an actuator controller command.
type GripperCommand int

const (
	Grasp GripperCommand = iota
	Release
	Fix
	Unfix
)

var gripperNames = [...]string{"grasp", "release", "fix", "unfix"}

func (g GripperCommand) String() string {
	if g < 0 || int(g) >= len(gripperNames) {
		return fmt.Sprintf("GripperCommand(%d)", int(g))
	}
	return gripperNames[g]
}

// ParseGripperCommand accepts grasp, release, fix, or unfix.
func ParseGripperCommand(s string) (GripperCommand, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range gripperNames {
		if name == s {
			return GripperCommand(i), nil
		}
	}
	return 0, fmt.Errorf("invalid gripper command '%s', use grasp, release, fix, or unfix", s)
}

// MoveRequest asks for a relative move along one axis.
type MoveRequest struct {
	Direction Direction
	Distance  float64
	Mode      SensorMode
}

func (req MoveRequest) String() string {
	if req.Mode == SensorUnset {
		return fmt.Sprintf("%s %g", req.Direction, req.Distance)
	}
	return fmt.Sprintf("%s %s %g", req.Direction, req.Mode, req.Distance)
}

// Validate rejects non-positive distances and sensor modes on the lift.
func (req MoveRequest) Validate() error {
	if math.IsNaN(req.Distance) || math.IsInf(req.Distance, 0) || req.Distance <= 0 {
		return ErrInvalidDistance
	}
	if req.Direction < Forward || req.Direction > Down {
		return fmt.Errorf("invalid direction %d", int(req.Direction))
	}
	if req.Mode != SensorUnset && !req.Direction.Horizontal() {
		return ErrSensorModeAxis
	}
	return nil
}

// CommandMode selects how moves are encoded for the controller.
type CommandMode int

const (
	// Absolute sends a single-axis setpoint (MOVX/MOVY/LIFT) computed from
	// the tracked position, and records the setpoint as the new position.
	Absolute CommandMode = iota
	// Incremental seeds from a fresh telemetry frame and sends the full
	// 3-axis target (AK80).
	Incremental
)

func (m CommandMode) String() string {
	switch m {
	case Absolute:
		return "absolute"
	case Incremental:
		return "incremental"
	}
	return fmt.Sprintf("CommandMode(%d)", int(m))
}

// UnmarshalText accepts "absolute" or "incremental".
func (m *CommandMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "absolute":
		*m = Absolute
	case "incremental":
		*m = Incremental
	default:
		return fmt.Errorf("unknown command mode '%s'", text)
	}
	return nil
}
