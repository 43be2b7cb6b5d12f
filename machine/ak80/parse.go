package ak80

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/coord"
)

// Prefix starts every telemetry frame and every full-target command.
const Prefix = "AK80"

// ErrMalformedFrame is returned for any line that is not a valid telemetry frame.
var ErrMalformedFrame = errors.New("malformed telemetry frame")

// Dialect selects the telemetry frame layout a controller firmware emits.
type Dialect int

const (
	// NineField frames carry x, y and z each followed by two auxiliary
	// channels; positions are reported to 4 decimal places.
	NineField Dialect = iota
	// FourField frames carry x, y, z and a sensor-stop flag; positions
	// are reported to 2 decimal places.
	FourField
)

func (d Dialect) String() string {
	switch d {
	case NineField:
		return "nine"
	case FourField:
		return "four"
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

// UnmarshalText accepts "nine" or "four".
func (d *Dialect) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "nine", "9":
		*d = NineField
	case "four", "4":
		*d = FourField
	default:
		return fmt.Errorf("unknown telemetry dialect '%s'", text)
	}
	return nil
}

func (d Dialect) fields() int {
	if d == FourField {
		return 4
	}
	return 9
}

func (d Dialect) places() int {
	if d == FourField {
		return 2
	}
	return 4
}

// Frame is a single parsed telemetry line.
type Frame struct {
	Position coord.Point

	// HasSensorFlag is set for dialects that report sensor stops.
	HasSensorFlag   bool
	StoppedBySensor bool
}

// Parser turns raw telemetry lines into frames.
type Parser struct {
	Dialect Dialect

	// Strict validates the full shape of a four-field line before
	// splitting it, rejecting lines torn by a partial read. It has no
	// effect on the nine-field dialect.
	Strict bool
}

const decimal = `\s*[+-]?(?:\d+\.?\d*|\.\d+)\s*`

var strictFourField = regexp.MustCompile(`^` + Prefix + `,?` + decimal + `,` + decimal + `,` + decimal + `,\s*[01]\s*$`)

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedFrame, format, args...)
}

func parseNumber(s string) (float64, error) {
	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, malformed("field '%s'", s)
	}
	return val, nil
}

// Parse will parse a single telemetry line.
func (p Parser) Parse(line string) (*Frame, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, Prefix) {
		return nil, malformed("missing %s prefix", Prefix)
	}
	if p.Strict && p.Dialect == FourField && !strictFourField.MatchString(line) {
		return nil, malformed("rejected by strict shape check")
	}

	data := strings.TrimPrefix(line[len(Prefix):], ",")
	parts := strings.Split(data, ",")
	if len(parts) != p.Dialect.fields() {
		return nil, malformed("invalid number of elements: %d", len(parts))
	}

	vals := make([]float64, len(parts))
	var err error
	for i, s := range parts {
		vals[i], err = parseNumber(s)
		if err != nil {
			return nil, err
		}
	}

	var f Frame
	switch p.Dialect {
	case FourField:
		f.Position = coord.Point{X: vals[0], Y: vals[1], Z: vals[2]}
		f.HasSensorFlag = true
		switch strings.TrimSpace(parts[3]) {
		case "0":
		case "1":
			f.StoppedBySensor = true
		default:
			return nil, malformed("sensor flag '%s'", parts[3])
		}
	default:
		f.Position = coord.Point{X: vals[0], Y: vals[3], Z: vals[6]}
	}

	f.Position = f.Position.Round(p.Dialect.places())
	if !f.Position.Finite() {
		return nil, malformed("non-finite position")
	}

	return &f, nil
}
