package ak80

import (
	"strconv"

	"github.com/mastercactapus/deliverybot/coord"
)

// Command words understood by the motion controller.
const (
	MoveX   = "MOVX"
	MoveY   = "MOVY"
	Lift    = "LIFT"
	Chassis = "POLO"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

// FormatAxis builds a single-axis setpoint command, e.g. `MOVX,640.0000`.
func FormatAxis(word string, val float64) string {
	return word + "," + formatFloat(val)
}

// FormatAxisMode builds a single-axis setpoint carrying a sensor-stop mode,
// e.g. `MOVX,1,640.0000`.
func FormatAxisMode(word string, mode int, val float64) string {
	return word + "," + strconv.Itoa(mode) + "," + formatFloat(val)
}

// FormatTarget builds a full 3-axis setpoint command.
func FormatTarget(p coord.Point) string {
	return Prefix + "," + formatFloat(p.X) + "," + formatFloat(p.Y) + "," + formatFloat(p.Z)
}

// FormatChassis builds a chassis orientation command.
func FormatChassis(mode int) string {
	return Chassis + "," + strconv.Itoa(mode)
}
