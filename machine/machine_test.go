package machine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/machine/ak80"
)

// fakeLink replays queued telemetry lines; an empty queue reads as a timeout.
type fakeLink struct {
	mx      sync.Mutex
	written []string
	lines   chan string

	onRead  func()
	onWrite func(string)
}

func newFakeLink(lines ...string) *fakeLink {
	f := &fakeLink{lines: make(chan string, 100)}
	for _, l := range lines {
		f.lines <- l
	}
	return f
}

func (f *fakeLink) WriteLine(s string) error {
	f.mx.Lock()
	f.written = append(f.written, s)
	cb := f.onWrite
	f.mx.Unlock()
	if cb != nil {
		cb(s)
	}
	return nil
}

func (f *fakeLink) ReadLine(ctx context.Context) (string, bool, error) {
	if f.onRead != nil {
		f.onRead()
	}
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case l := <-f.lines:
		return l, true, nil
	case <-time.After(time.Millisecond):
		return "", false, nil
	}
}

func (f *fakeLink) Written() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.written...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitDelay = 0
	cfg.SettleDelay = 0
	cfg.MaxAttempts = 20
	return cfg
}

var (
	nineField = ak80.Parser{Dialect: ak80.NineField}
	fourField = ak80.Parser{Dialect: ak80.FourField}
)

func TestMachine_MoveAbsolute(t *testing.T) {
	cfg := testConfig()
	cfg.AwaitMoves = false
	motion := newFakeLink()
	m := NewMachine(cfg, motion, nil, nineField, NewStore())

	_, err := m.Move(context.Background(), MoveRequest{Direction: Forward, Distance: 640})
	assert.Equal(t, ErrPositionUnknown, err)
	assert.Empty(t, motion.Written())

	m.Store().Assume(coord.Point{})
	p, err := m.Move(context.Background(), MoveRequest{Direction: Forward, Distance: 640})
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 640}, p)
	assert.Equal(t, []string{"MOVX,640.0000"}, motion.Written())

	pos, ok := m.Position()
	assert.True(t, ok)
	assert.Equal(t, coord.Point{X: 640}, pos)

	_, err = m.Move(context.Background(), MoveRequest{Direction: Forward, Distance: -1})
	assert.Equal(t, ErrInvalidDistance, err)
	assert.Len(t, motion.Written(), 1)
}

func TestMachine_ReissueIsIdempotent(t *testing.T) {
	cfg := testConfig()
	motion := newFakeLink()
	m := NewMachine(cfg, motion, nil, nineField, NewStore())
	m.Store().Assume(coord.Point{X: 12})

	cmd, err := m.Send(context.Background(), MoveRequest{Direction: Backward, Distance: 2})
	require.NoError(t, err)
	once, _ := m.Position()

	require.NoError(t, m.issue(cmd))
	twice, _ := m.Position()

	assert.Equal(t, coord.Point{X: 10}, once)
	assert.Equal(t, once, twice)
	assert.Equal(t, []string{"MOVX,10.0000", "MOVX,10.0000"}, motion.Written())
}

func TestMachine_WaitForResends(t *testing.T) {
	cfg := testConfig()
	motion := newFakeLink(
		"AK800,0,0,0,0,0,0,0,0",
		"AK80,abc",
		"AK80320,0,0,0,0,0,0,0,0",
		"AK80640,0,0,0,0,0,0,0,0",
	)
	m := NewMachine(cfg, motion, nil, nineField, NewStore())
	m.Store().Assume(coord.Point{})

	p, err := m.Move(context.Background(), MoveRequest{Direction: Forward, Distance: 640})
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 640}, p)

	// one send, then a resend for each frame that did not show arrival
	assert.Equal(t, []string{"MOVX,640.0000", "MOVX,640.0000", "MOVX,640.0000", "MOVX,640.0000"}, motion.Written())

	snap := m.Store().Snapshot()
	assert.Equal(t, coord.Point{X: 640}, snap.Position)
	assert.Equal(t, uint64(3), snap.Seq)
}

func TestMachine_WaitForAttemptLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 5
	motion := newFakeLink("AK80,1,0,0,0")
	m := NewMachine(cfg, motion, nil, fourField, NewStore())
	m.Store().Assume(coord.Point{})

	_, err := m.Move(context.Background(), MoveRequest{Direction: Left, Distance: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTargetNotReached))

	var tnr *TargetNotReachedError
	require.True(t, errors.As(err, &tnr))
	assert.Equal(t, 5, tnr.Attempts)
	assert.True(t, tnr.Known)
	assert.Equal(t, coord.Point{X: 1}, tnr.Last)
	assert.Equal(t, coord.AxisY, tnr.Command.Axis)
	assert.Len(t, motion.Written(), 5)
}

func TestMachine_WaitForTimeout(t *testing.T) {
	mock := clock.NewMock()
	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.MoveTimeout = time.Second
	cfg.Clock = mock

	motion := newFakeLink()
	motion.onRead = func() { mock.Add(300 * time.Millisecond) }
	m := NewMachine(cfg, motion, nil, nineField, NewStore())
	m.Store().Assume(coord.Point{})

	_, err := m.Move(context.Background(), MoveRequest{Direction: Up, Distance: 1})
	var tnr *TargetNotReachedError
	require.True(t, errors.As(err, &tnr))
	assert.False(t, tnr.Known)
	assert.Equal(t, 4, tnr.Attempts)
	assert.Equal(t, 1200*time.Millisecond, tnr.Elapsed)
}

func TestMachine_WaitForCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.MoveTimeout = 0
	motion := newFakeLink()
	m := NewMachine(cfg, motion, nil, nineField, NewStore())
	m.Store().Assume(coord.Point{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := m.Move(ctx, MoveRequest{Direction: Forward, Distance: 1})
	assert.Equal(t, context.Canceled, err)
}

func TestMachine_SensorStop(t *testing.T) {
	cfg := testConfig()
	motion := newFakeLink("AK80,20.00,0,0,0", "AK80,40.00,0,0,1")
	m := NewMachine(cfg, motion, nil, fourField, NewStore())
	m.Store().Assume(coord.Point{})

	p, err := m.Move(context.Background(), MoveRequest{Direction: Forward, Distance: 100, Mode: SensorFront})
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 40}, p)
	assert.Equal(t, "MOVX,1,100.0000", motion.Written()[0])
}

func TestMachine_MoveIncremental(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = Incremental
	cfg.AwaitMoves = false
	motion := newFakeLink("AK80,10,20,30,0")
	m := NewMachine(cfg, motion, nil, fourField, NewStore())

	p, err := m.Move(context.Background(), MoveRequest{Direction: Up, Distance: 1.5})
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 10, Y: 20, Z: 31.5}, p)
	assert.Equal(t, []string{"AK80,10.0000,20.0000,31.5000"}, motion.Written())

	// the store only follows telemetry in this mode
	pos, _ := m.Position()
	assert.Equal(t, coord.Point{X: 10, Y: 20, Z: 30}, pos)

	// no fresh frame: fall back to the last known position
	_, err = m.Move(context.Background(), MoveRequest{Direction: Right, Distance: 5})
	require.NoError(t, err)
	assert.Equal(t, "AK80,10.0000,15.0000,30.0000", motion.Written()[1])

	m = NewMachine(cfg, newFakeLink(), nil, fourField, NewStore())
	_, err = m.Move(context.Background(), MoveRequest{Direction: Up, Distance: 1})
	assert.Equal(t, ErrPositionUnknown, err)
}

func TestMachine_MalformedFrameLeavesStore(t *testing.T) {
	motion := newFakeLink("AK80,abc,1,2,0")
	m := NewMachine(testConfig(), motion, nil, fourField, NewStore())
	m.Store().Commit(ak80.Frame{Position: coord.Point{X: 5, Y: 5, Z: 5}})

	_, err := m.readFrame(context.Background())
	assert.True(t, errors.Is(err, ak80.ErrMalformedFrame))

	snap := m.Store().Snapshot()
	assert.Equal(t, coord.Point{X: 5, Y: 5, Z: 5}, snap.Position)
	assert.Equal(t, uint64(1), snap.Seq)

	_, err = m.readFrame(context.Background())
	assert.Equal(t, ErrNoTelemetry, err)
}

func TestMachine_Initialize(t *testing.T) {
	motion := newFakeLink(
		"AK80,1,2,3,0",
		"garbage",
		"AK80,4,5,6,0",
	)
	m := NewMachine(testConfig(), motion, nil, fourField, NewStore())

	p, err := m.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 4, Y: 5, Z: 6}, p)

	m = NewMachine(testConfig(), newFakeLink("garbage"), nil, fourField, NewStore())
	_, err = m.Initialize(context.Background())
	assert.Equal(t, ErrPositionUnknown, err)
}

func TestMachine_SetChassisMode(t *testing.T) {
	mock := clock.NewMock()
	cfg := testConfig()
	cfg.SettleDelay = 2 * time.Second
	cfg.Clock = mock

	motion := newFakeLink()
	m := NewMachine(cfg, motion, nil, nineField, NewStore())

	done := make(chan error, 1)
	go func() { done <- m.SetChassisMode(context.Background(), ChassisX) }()

	for {
		mock.Add(100 * time.Millisecond)
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, []string{"POLO,1"}, motion.Written())
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMachine_SetChassisModeCancel(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = time.Hour
	motion := newFakeLink()
	m := NewMachine(cfg, motion, nil, nineField, NewStore())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	err := m.SetChassisMode(ctx, ChassisStable)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, []string{"POLO,0"}, motion.Written())
}

func TestMachine_Actuate(t *testing.T) {
	gripper := newFakeLink()
	m := NewMachine(testConfig(), newFakeLink(), gripper, nineField, NewStore())

	for _, cmd := range []GripperCommand{Grasp, Release, Fix, Unfix} {
		require.NoError(t, m.Actuate(context.Background(), cmd))
	}
	assert.Equal(t, []string{"grasp", "release", "fix", "unfix"}, gripper.Written())

	m = NewMachine(testConfig(), newFakeLink(), nil, nineField, NewStore())
	assert.Equal(t, ErrNoGripper, m.Actuate(context.Background(), Grasp))
}
