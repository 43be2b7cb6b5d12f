package machine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/link"
	"github.com/mastercactapus/deliverybot/machine/ak80"
)

func TestPoller_Run(t *testing.T) {
	motion := newFakeLink(
		"AK80,1,2,3,0",
		"AK80,1,2",
		"AK80,4,5,6,1",
	)
	store := NewStore()
	p := NewPoller(motion, fourField, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Snapshot().Seq == 2 }, time.Second, time.Millisecond)
	snap := store.Snapshot()
	assert.Equal(t, coord.Point{X: 4, Y: 5, Z: 6}, snap.Position)
	assert.True(t, snap.StoppedBySensor)

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestPoller_ClosedLink(t *testing.T) {
	sim := ak80.NewSimulator(ak80.NineField, coord.Point{})
	sim.Interval = time.Millisecond
	conn := link.NewConn(sim, 50*time.Millisecond)
	store := NewStore()

	done := make(chan error, 1)
	go func() { done <- NewPoller(conn, nineField, store).Run(context.Background()) }()

	require.Eventually(t, func() bool { return store.Snapshot().Known }, time.Second, time.Millisecond)
	conn.Close()

	select {
	case err := <-done:
		assert.Equal(t, link.ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after close")
	}
}

func newSimMachine(t *testing.T, sim *ak80.Simulator, cfg Config) (*Machine, context.Context) {
	t.Helper()
	conn := link.NewConn(sim, 100*time.Millisecond)
	store := NewStore()
	parser := ak80.Parser{Dialect: sim.Dialect}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		conn.Close()
	})
	if cfg.Polled {
		go NewPoller(conn, parser, store).Run(ctx)
	}

	return NewMachine(cfg, conn, nil, parser, store), ctx
}

func TestMachine_PolledMove(t *testing.T) {
	sim := ak80.NewSimulator(ak80.NineField, coord.Point{X: 5})
	sim.Interval = 2 * time.Millisecond
	sim.Step = 50

	cfg := testConfig()
	cfg.Polled = true
	cfg.FrameTimeout = 200 * time.Millisecond
	cfg.MaxAttempts = 0
	cfg.MoveTimeout = 10 * time.Second
	cfg.InitSamples = 2
	m, ctx := newSimMachine(t, sim, cfg)

	p, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 5}, p)

	p, err = m.Move(ctx, MoveRequest{Direction: Forward, Distance: 640})
	require.NoError(t, err)
	assert.InDelta(t, 645, p.X, 0.001)
	assert.InDelta(t, 645, sim.Position().X, 0.001)

	require.NoError(t, m.SetChassisMode(ctx, ChassisY))
	assert.Equal(t, 2, sim.ChassisMode())

	p, err = m.Move(ctx, MoveRequest{Direction: Right, Distance: 120})
	require.NoError(t, err)
	assert.InDelta(t, -120, p.Y, 0.001)
}

func TestMachine_DirectMoveLossyLink(t *testing.T) {
	sim := ak80.NewSimulator(ak80.FourField, coord.Point{})
	sim.Interval = 2 * time.Millisecond
	sim.DropEvery = 2

	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.MoveTimeout = 10 * time.Second
	cfg.InitSamples = 1
	m, ctx := newSimMachine(t, sim, cfg)

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	for _, req := range []MoveRequest{
		{Direction: Forward, Distance: 100},
		{Direction: Left, Distance: 50},
		{Direction: Down, Distance: 1.22},
	} {
		_, err = m.Move(ctx, req)
		require.NoError(t, err, req.String())
	}

	pos := sim.Position()
	assert.InDelta(t, 100, pos.X, 0.001)
	assert.InDelta(t, 50, pos.Y, 0.001)
	assert.InDelta(t, -1.22, pos.Z, 0.001)
}

func TestMachine_WaitForClosedLink(t *testing.T) {
	sim := ak80.NewSimulator(ak80.NineField, coord.Point{})
	conn := link.NewConn(sim, 10*time.Millisecond)
	conn.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.MoveTimeout = 0
	m := NewMachine(cfg, conn, nil, nineField, NewStore())

	cmd, err := Translate(Absolute, coord.Point{}, MoveRequest{Direction: Forward, Distance: 1})
	require.NoError(t, err)
	_, err = m.WaitFor(context.Background(), cmd)
	assert.Equal(t, link.ErrClosed, err)
}

func TestMachine_IncrementalSeedsFromLatestFrame(t *testing.T) {
	sim := ak80.NewSimulator(ak80.NineField, coord.Point{})
	sim.Interval = 10 * time.Millisecond
	sim.Step = 10

	cfg := testConfig()
	cfg.Mode = Incremental
	cfg.AwaitMoves = false
	m, ctx := newSimMachine(t, sim, cfg)

	cmd, err := m.Send(ctx, MoveRequest{Direction: Forward, Distance: 100})
	require.NoError(t, err)
	assert.Equal(t, "AK80,100.0000,0.0000,0.0000", cmd.Line)

	// telemetry from the whole trip queues up unread
	require.Eventually(t, func() bool { return sim.Position().X == 100 }, 2*time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cmd, err = m.Send(ctx, MoveRequest{Direction: Forward, Distance: 100})
	require.NoError(t, err)
	assert.Equal(t, "AK80,200.0000,0.0000,0.0000", cmd.Line)
}
