package routine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/machine"
)

var (
	// ErrBusy is returned when another routine is already running.
	ErrBusy = errors.New("a routine is already running")
	// ErrUnknownRoutine is returned for a routine name that was never loaded.
	ErrUnknownRoutine = errors.New("unknown routine")
	// ErrAborted is returned when a routine was stopped by Abort.
	ErrAborted = errors.New("routine aborted")
)

// Robot is the part of the machine a routine drives.
type Robot interface {
	Move(context.Context, machine.MoveRequest) (coord.Point, error)
	SetChassisMode(context.Context, machine.ChassisMode) error
	Actuate(context.Context, machine.GripperCommand) error
}

// Event reports a status checkpoint reached by a routine.
type Event struct {
	Routine string    `json:"routine"`
	OrderID string    `json:"orderID"`
	Step    int       `json:"step"`
	Status  string    `json:"status"`
	Time    time.Time `json:"time"`
}

// Runner executes routines one at a time.
type Runner struct {
	robot    Robot
	tracker  Tracker
	clock    clock.Clock
	routines map[string]*Routine

	mx      sync.Mutex
	running string
	cancel  context.CancelFunc
	aborted bool

	subMx sync.Mutex
	subs  map[chan Event]struct{}
}

// NewRunner creates a Runner. tracker may be nil.
func NewRunner(robot Robot, tracker Tracker, routines []*Routine, c clock.Clock) *Runner {
	if c == nil {
		c = clock.New()
	}
	r := &Runner{
		robot:    robot,
		tracker:  tracker,
		clock:    c,
		routines: make(map[string]*Routine, len(routines)),
		subs:     make(map[chan Event]struct{}),
	}
	for _, rt := range routines {
		r.routines[rt.Name] = rt
	}
	return r
}

// Running returns the name of the running routine, or an empty string.
func (r *Runner) Running() string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.running
}

// Abort stops the running routine. It returns false if nothing was running.
func (r *Runner) Abort() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cancel == nil {
		return false
	}
	r.aborted = true
	r.cancel()
	return true
}

// Subscribe returns a channel of status events. Slow subscribers miss events.
func (r *Runner) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	r.subMx.Lock()
	r.subs[ch] = struct{}{}
	r.subMx.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMx.Lock()
			delete(r.subs, ch)
			r.subMx.Unlock()
		})
	}
}

func (r *Runner) publish(e Event) {
	r.subMx.Lock()
	defer r.subMx.Unlock()
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (r *Runner) start(ctx context.Context, name string) (context.Context, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.running != "" {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	r.running = name
	r.cancel = cancel
	r.aborted = false
	return ctx, nil
}

func (r *Runner) finish() (aborted bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.cancel()
	r.running = ""
	r.cancel = nil
	return r.aborted
}

// Run executes the named routine for an order and blocks until it completes.
//
// The first failing step ends the routine; the robot is left where it stopped.
func (r *Runner) Run(ctx context.Context, name, orderID string) error {
	rt, ok := r.routines[name]
	if !ok {
		return errors.Wrap(ErrUnknownRoutine, name)
	}

	ctx, err := r.start(ctx, name)
	if err != nil {
		return err
	}

	log.Printf("Running %s for order %s", name, orderID)
	exec := &execution{Runner: r, routine: rt, orderID: orderID}
	for i, step := range rt.Steps {
		exec.step = i + 1
		err = step.action(ctx, exec)
		if err != nil {
			break
		}
	}

	if r.finish() && err != nil {
		err = ErrAborted
	}
	if err != nil {
		log.Printf("ERROR: %s for order %s: step %d: %v", name, orderID, exec.step, err)
		exec.robotStatus(StatusFailed)
		return errors.Wrapf(err, "%s step %d", name, exec.step)
	}

	log.Printf("Finished %s for order %s", name, orderID)
	return nil
}

// execution is the state of one routine run.
type execution struct {
	*Runner
	routine *Routine
	orderID string
	step    int
}

// tracked logs tracker failures; a lost status update does not stop the robot.
func (e *execution) tracked(what string, err error) {
	if err != nil {
		log.Printf("ERROR: %s (order %s): %v", what, e.orderID, err)
	}
}

func (e *execution) robotStatus(status string) {
	if e.tracker != nil {
		e.tracked("update robot status", e.tracker.UpdateRobotStatus(status))
	}
	e.publish(Event{
		Routine: e.routine.Name,
		OrderID: e.orderID,
		Step:    e.step,
		Status:  status,
		Time:    e.clock.Now(),
	})
}

type action func(context.Context, *execution) error

func moveAction(req machine.MoveRequest) action {
	return func(ctx context.Context, e *execution) error {
		_, err := e.robot.Move(ctx, req)
		return err
	}
}

func chassisAction(mode machine.ChassisMode) action {
	return func(ctx context.Context, e *execution) error {
		return e.robot.SetChassisMode(ctx, mode)
	}
}

func actuateAction(cmd machine.GripperCommand) action {
	return func(ctx context.Context, e *execution) error {
		return e.robot.Actuate(ctx, cmd)
	}
}

func waitAction(d time.Duration) action {
	return func(ctx context.Context, e *execution) error {
		t := e.clock.Timer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}

func robotStatusAction(status string) action {
	return func(ctx context.Context, e *execution) error {
		e.robotStatus(status)
		return ctx.Err()
	}
}

func orderStatusAction(status string) action {
	return func(ctx context.Context, e *execution) error {
		if e.tracker != nil {
			e.tracked("update order status", e.tracker.UpdateOrderStatus(e.orderID, status))
		}
		return ctx.Err()
	}
}

func itemsStatusAction(status string) action {
	return func(ctx context.Context, e *execution) error {
		if e.tracker != nil {
			e.tracked("set items status", e.tracker.SetItemsStatus(e.orderID, status))
		}
		return ctx.Err()
	}
}

func archiveAction(ctx context.Context, e *execution) error {
	if e.tracker != nil {
		e.tracked("archive order", e.tracker.ArchiveOrder(e.orderID))
	}
	return ctx.Err()
}
