package coord

import (
	"fmt"
	"math"
)

// Axis identifies one of the three linear axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

type Point struct{ X, Y, Z float64 }

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// Axis returns the value of a single axis.
func (p Point) Axis(a Axis) float64 {
	switch a {
	case AxisY:
		return p.Y
	case AxisZ:
		return p.Z
	}
	return p.X
}

// WithAxis returns a copy of p with a single axis replaced.
func (p Point) WithAxis(a Axis, val float64) Point {
	switch a {
	case AxisX:
		p.X = val
	case AxisY:
		p.Y = val
	case AxisZ:
		p.Z = val
	}
	return p
}

// Round will round every axis to the given number of decimal places.
func (p Point) Round(places int) Point {
	p.X = round(p.X, places)
	p.Y = round(p.Y, places)
	p.Z = round(p.Z, places)
	return p
}

// Finite is false if any axis is NaN or infinite.
func (p Point) Finite() bool {
	return finite(p.X) && finite(p.Y) && finite(p.Z)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", p.X, p.Y, p.Z)
}

func round(val float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(val*scale) / scale
}

func finite(val float64) bool {
	return !math.IsNaN(val) && !math.IsInf(val, 0)
}
