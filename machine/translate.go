package machine

import (
	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/machine/ak80"
)

// Command is a translated move, ready to be sent to the motion controller.
//
// Every command carries an absolute setpoint, so sending it more than
// once has the same effect as sending it once.
type Command struct {
	Line   string
	Axis   coord.Axis
	Target coord.Point

	// Sensor is set when the controller may end the move early.
	Sensor bool

	// assume records Target in the store when the command is sent.
	assume bool
}

var axisWords = map[coord.Axis]string{
	coord.AxisX: ak80.MoveX,
	coord.AxisY: ak80.MoveY,
	coord.AxisZ: ak80.Lift,
}

// Translate converts req into a controller command, starting from cur.
func Translate(mode CommandMode, cur coord.Point, req MoveRequest) (Command, error) {
	err := req.Validate()
	if err != nil {
		return Command{}, err
	}

	axis := req.Direction.Axis()
	target := cur.WithAxis(axis, cur.Axis(axis)+req.Direction.Sign()*req.Distance)
	if !target.Finite() {
		return Command{}, errors.Wrapf(ErrInvalidDistance, "target %s out of range", target)
	}
	cmd := Command{
		Axis:   axis,
		Target: target,
		Sensor: req.Mode.active(),
	}

	switch mode {
	case Incremental:
		if req.Mode != SensorUnset {
			return Command{}, ErrSensorModeUnsupported
		}
		cmd.Line = ak80.FormatTarget(target)
	default:
		word := axisWords[axis]
		if req.Mode != SensorUnset {
			cmd.Line = ak80.FormatAxisMode(word, req.Mode.code(), target.Axis(axis))
		} else {
			cmd.Line = ak80.FormatAxis(word, target.Axis(axis))
		}
		cmd.assume = true
	}

	return cmd, nil
}

// Reached reports whether p is within tolerance of the command target on its axis.
func (cmd Command) Reached(p coord.Point, tolerance float64) bool {
	diff := p.Axis(cmd.Axis) - cmd.Target.Axis(cmd.Axis)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
