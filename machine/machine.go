package machine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/machine/ak80"
)

// A Link is a line-oriented connection to a controller.
type Link interface {
	WriteLine(string) error

	// ReadLine returns ok=false with a nil error when the read timeout
	// expires before a line arrives.
	ReadLine(context.Context) (line string, ok bool, err error)
}

// A Discarder drops buffered input so the next read reflects the
// device's current state. *link.Conn implements it.
type Discarder interface {
	Discard()
}

// A Parser turns one telemetry line into a frame.
type Parser interface {
	Parse(string) (*ak80.Frame, error)
}

// Config controls how the Machine translates and confirms moves.
type Config struct {
	Mode CommandMode

	// Tolerance is the maximum distance from the target axis value
	// still considered arrived.
	Tolerance float64

	// MaxAttempts and MoveTimeout bound WaitFor. Zero disables a bound.
	MaxAttempts int
	MoveTimeout time.Duration

	// AwaitMoves makes Move block until telemetry confirms arrival.
	AwaitMoves bool

	// SettleDelay is the time allowed for a chassis change to complete.
	SettleDelay time.Duration

	// InitDelay and InitSamples control Initialize.
	InitDelay   time.Duration
	InitSamples int

	// Polled is set when a Poller owns the motion link. Foreground
	// operations then observe telemetry through the store instead of
	// reading the link themselves.
	Polled bool

	// FrameTimeout bounds the wait for a store update when Polled.
	FrameTimeout time.Duration

	Clock clock.Clock
}

// DefaultConfig returns the settings used by the delivery robot.
func DefaultConfig() Config {
	return Config{
		Mode:         Absolute,
		Tolerance:    0.001,
		MaxAttempts:  600,
		MoveTimeout:  2 * time.Minute,
		AwaitMoves:   true,
		SettleDelay:  2 * time.Second,
		InitDelay:    2 * time.Second,
		InitSamples:  5,
		FrameTimeout: time.Second,
	}
}

// Machine coordinates the motion controller and the gripper controller.
type Machine struct {
	cfg     Config
	motion  Link
	gripper Link
	parser  Parser
	store   *Store
	clock   clock.Clock

	// mx serializes foreground commands.
	mx sync.Mutex
}

// NewMachine creates a Machine. gripper may be nil if no actuator controller is attached.
func NewMachine(cfg Config, motion, gripper Link, parser Parser, store *Store) *Machine {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &Machine{
		cfg:     cfg,
		motion:  motion,
		gripper: gripper,
		parser:  parser,
		store:   store,
		clock:   c,
	}
}

func (m *Machine) Store() *Store { return m.store }

// Position returns the last known position.
func (m *Machine) Position() (coord.Point, bool) { return m.store.Get() }

// nextFrame returns the next telemetry frame, committing it to the store.
func (m *Machine) nextFrame(ctx context.Context) (*ak80.Frame, error) {
	if m.cfg.Polled {
		return m.awaitFrame(ctx)
	}
	return m.readFrame(ctx)
}

func (m *Machine) readFrame(ctx context.Context) (*ak80.Frame, error) {
	line, ok, err := m.motion.ReadLine(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoTelemetry
	}
	f, err := m.parser.Parse(line)
	if err != nil {
		return nil, err
	}
	m.store.Commit(*f)
	return f, nil
}

func (m *Machine) awaitFrame(ctx context.Context) (*ak80.Frame, error) {
	updated := m.store.Updated()

	var timeout <-chan time.Time
	if m.cfg.FrameTimeout > 0 {
		t := m.clock.Timer(m.cfg.FrameTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrNoTelemetry
	case <-updated:
	}

	snap := m.store.Snapshot()
	return &ak80.Frame{Position: snap.Position, StoppedBySensor: snap.StoppedBySensor}, nil
}

// Initialize samples telemetry to learn the starting position.
//
// Failed samples are discarded. ErrPositionUnknown is returned if none succeed.
func (m *Machine) Initialize(ctx context.Context) (coord.Point, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	err := m.sleep(ctx, m.cfg.InitDelay)
	if err != nil {
		return coord.Point{}, err
	}

	var good int
	for i := 0; i < m.cfg.InitSamples; i++ {
		f, err := m.nextFrame(ctx)
		if ctx.Err() != nil {
			return coord.Point{}, ctx.Err()
		}
		if err != nil {
			log.Printf("ERROR: initial position sample %d: %v", i+1, err)
			continue
		}
		good++
		log.Println("Initial position:", f.Position)
	}

	pos, known := m.store.Get()
	if good == 0 || !known {
		return coord.Point{}, ErrPositionUnknown
	}
	return pos, nil
}

// sleep waits for d or until ctx is done.
func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := m.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetChassisMode switches the wheel set and waits for it to settle.
func (m *Machine) SetChassisMode(ctx context.Context, mode ChassisMode) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.motion.WriteLine(mode.Command())
	if err != nil {
		return errors.Wrap(err, "set chassis mode")
	}
	log.Println("Chassis mode:", mode)

	return m.sleep(ctx, m.cfg.SettleDelay)
}

// Actuate sends a command to the gripper controller.
func (m *Machine) Actuate(ctx context.Context, cmd GripperCommand) error {
	if m.gripper == nil {
		return ErrNoGripper
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.gripper.WriteLine(cmd.String())
	if err != nil {
		return errors.Wrapf(err, "gripper %s", cmd)
	}
	log.Println("Gripper:", cmd)
	return nil
}

// current returns the position a new move should start from.
func (m *Machine) current(ctx context.Context) (coord.Point, error) {
	if m.cfg.Mode == Incremental {
		if d, ok := m.motion.(Discarder); ok && !m.cfg.Polled {
			d.Discard()
		}
		f, err := m.nextFrame(ctx)
		if ctx.Err() != nil {
			return coord.Point{}, ctx.Err()
		}
		if err == nil {
			return f.Position, nil
		}
		log.Println("ERROR: seed position:", err)
	}

	pos, ok := m.store.Get()
	if !ok {
		return coord.Point{}, ErrPositionUnknown
	}
	return pos, nil
}

// issue sends a translated command.
func (m *Machine) issue(cmd Command) error {
	err := m.motion.WriteLine(cmd.Line)
	if err != nil {
		return errors.Wrap(err, "send move")
	}
	if cmd.assume {
		m.store.Assume(cmd.Target)
	}
	return nil
}

// Send translates and sends a move without waiting for it to complete.
func (m *Machine) Send(ctx context.Context, req MoveRequest) (Command, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.send(ctx, req)
}

func (m *Machine) send(ctx context.Context, req MoveRequest) (Command, error) {
	err := req.Validate()
	if err != nil {
		return Command{}, err
	}
	cur, err := m.current(ctx)
	if err != nil {
		return Command{}, err
	}
	cmd, err := Translate(m.cfg.Mode, cur, req)
	if err != nil {
		return Command{}, err
	}
	err = m.issue(cmd)
	if err != nil {
		return Command{}, err
	}
	log.Printf("Move %s: %s", req, cmd.Line)
	return cmd, nil
}

// Move sends a move and, if AwaitMoves is set, waits until telemetry confirms it.
//
// The returned position is the confirmed position, or the commanded target
// when not waiting.
func (m *Machine) Move(ctx context.Context, req MoveRequest) (coord.Point, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	cmd, err := m.send(ctx, req)
	if err != nil {
		return coord.Point{}, err
	}
	if !m.cfg.AwaitMoves {
		return cmd.Target, nil
	}
	return m.waitFor(ctx, cmd)
}
