package ak80

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/deliverybot/coord"
)

// Simulator is an in-process stand-in for the motion controller.
//
// It accepts the same command lines as the real controller through Write
// and produces telemetry lines through Read, one frame per Interval.
type Simulator struct {
	Dialect Dialect

	// Step is the maximum travel per axis per telemetry frame.
	// Zero moves to the setpoint immediately.
	Step     float64
	Interval time.Duration

	// DropEvery ignores every Nth motion command, like a lossy link.
	DropEvery int

	// SensorTrip stops a sensor-mode move after travelling this far.
	SensorTrip float64

	mx          sync.Mutex
	pos, target coord.Point
	chassis     int
	moves       int
	sensorArmed bool
	sensorStart coord.Point
	stopped     bool

	in  bytes.Buffer
	out bytes.Buffer

	closeOnce sync.Once
	closeCh   chan struct{}
}

var _ io.ReadWriteCloser = &Simulator{}

// NewSimulator creates a Simulator resting at start.
func NewSimulator(d Dialect, start coord.Point) *Simulator {
	return &Simulator{
		Dialect:  d,
		Interval: 50 * time.Millisecond,
		pos:      start,
		target:   start,
		closeCh:  make(chan struct{}),
	}
}

// Position returns the simulated physical position.
func (s *Simulator) Position() coord.Point {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.pos
}

// ChassisMode returns the last chassis mode received.
func (s *Simulator) ChassisMode() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.chassis
}

func (s *Simulator) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return nil
}

// Write accepts newline-terminated command lines.
func (s *Simulator) Write(p []byte) (int, error) {
	select {
	case <-s.closeCh:
		return 0, io.ErrClosedPipe
	default:
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.in.Write(p)
	for {
		line, err := s.in.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			s.in.Reset()
			s.in.WriteString(line)
			break
		}
		if err := s.handle(strings.TrimSpace(line)); err != nil {
			log.Println("ERROR: simulator:", err)
		}
	}
	return len(p), nil
}

func parseArgs(parts []string) ([]float64, error) {
	vals := make([]float64, len(parts))
	for i, s := range parts {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (s *Simulator) handle(line string) error {
	parts := strings.Split(line, ",")
	args, err := parseArgs(parts[1:])
	if err != nil {
		return fmt.Errorf("bad command '%s': %v", line, err)
	}

	if parts[0] == Chassis {
		if len(args) != 1 {
			return fmt.Errorf("bad command '%s'", line)
		}
		s.chassis = int(args[0])
		return nil
	}

	s.moves++
	if s.DropEvery > 0 && s.moves%s.DropEvery == 0 {
		return nil
	}

	target := s.target
	mode := 0
	switch {
	case parts[0] == Prefix && len(args) == 3:
		target = coord.Point{X: args[0], Y: args[1], Z: args[2]}
	case (parts[0] == MoveX || parts[0] == MoveY) && (len(args) == 1 || len(args) == 2):
		if len(args) == 2 {
			mode = int(args[0])
		}
		if parts[0] == MoveX {
			target.X = args[len(args)-1]
		} else {
			target.Y = args[len(args)-1]
		}
	case parts[0] == Lift && len(args) == 1:
		target.Z = args[0]
	default:
		return fmt.Errorf("unknown command '%s'", line)
	}

	s.target = target
	s.sensorArmed = mode != 0 && s.SensorTrip > 0
	s.sensorStart = s.pos
	s.stopped = false
	return nil
}

func approach(cur, target, step float64) float64 {
	if step <= 0 || math.Abs(target-cur) <= step {
		return target
	}
	if target > cur {
		return cur + step
	}
	return cur - step
}

func (s *Simulator) tick() {
	if s.stopped {
		return
	}
	s.pos.X = approach(s.pos.X, s.target.X, s.Step)
	s.pos.Y = approach(s.pos.Y, s.target.Y, s.Step)
	s.pos.Z = approach(s.pos.Z, s.target.Z, s.Step)

	if !s.sensorArmed {
		return
	}
	moved := s.pos.Sub(s.sensorStart)
	if math.Abs(moved.X)+math.Abs(moved.Y) >= s.SensorTrip {
		s.stopped = true
		s.sensorArmed = false
		s.target = s.pos
	}
}

func (s *Simulator) frame() string {
	p := s.pos
	if s.Dialect == FourField {
		flag := 0
		if s.stopped {
			flag = 1
		}
		return fmt.Sprintf("%s,%.2f,%.2f,%.2f,%d\n", Prefix, p.X, p.Y, p.Z, flag)
	}
	return fmt.Sprintf("%s%.4f,0,0,%.4f,0,0,%.4f,0,0\n", Prefix, p.X, p.Y, p.Z)
}

// Read blocks for one Interval, then returns the next telemetry frame.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mx.Lock()
	if s.out.Len() > 0 {
		defer s.mx.Unlock()
		return s.out.Read(p)
	}
	s.mx.Unlock()

	t := time.NewTimer(s.Interval)
	defer t.Stop()
	select {
	case <-s.closeCh:
		return 0, io.EOF
	case <-t.C:
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.tick()
	s.out.WriteString(s.frame())
	return s.out.Read(p)
}
