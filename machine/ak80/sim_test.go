package ak80

import (
	"bufio"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/deliverybot/coord"
)

func readFrames(t *testing.T, sim *Simulator, p Parser, n int) []Frame {
	t.Helper()
	r := bufio.NewReader(sim)
	frames := make([]Frame, n)
	for i := range frames {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		f, err := p.Parse(line)
		require.NoError(t, err, line)
		frames[i] = *f
	}
	return frames
}

func TestSimulator_Move(t *testing.T) {
	sim := NewSimulator(NineField, coord.Point{X: 1, Y: 2, Z: 3})
	sim.Interval = time.Millisecond
	sim.Step = 10
	defer sim.Close()

	_, err := io.WriteString(sim, "MOVX,25.0000\nLIFT,")
	require.NoError(t, err)
	_, err = io.WriteString(sim, "0.5000\nPOLO,1\n")
	require.NoError(t, err)

	frames := readFrames(t, sim, Parser{Dialect: NineField}, 3)
	assert.Equal(t, coord.Point{X: 11, Y: 2, Z: 0.5}, frames[0].Position)
	assert.Equal(t, coord.Point{X: 21, Y: 2, Z: 0.5}, frames[1].Position)
	assert.Equal(t, coord.Point{X: 25, Y: 2, Z: 0.5}, frames[2].Position)
	assert.Equal(t, 1, sim.ChassisMode())

	_, err = io.WriteString(sim, FormatTarget(coord.Point{X: 25, Y: 7, Z: 0.5})+"\n")
	require.NoError(t, err)
	frames = readFrames(t, sim, Parser{Dialect: NineField}, 1)
	assert.Equal(t, coord.Point{X: 25, Y: 7, Z: 0.5}, frames[0].Position)
}

func TestSimulator_SensorTrip(t *testing.T) {
	sim := NewSimulator(FourField, coord.Point{})
	sim.Interval = time.Millisecond
	sim.Step = 10
	sim.SensorTrip = 30
	defer sim.Close()

	_, err := io.WriteString(sim, FormatAxisMode(MoveX, 1, 100)+"\n")
	require.NoError(t, err)

	frames := readFrames(t, sim, Parser{Dialect: FourField, Strict: true}, 4)
	assert.False(t, frames[1].StoppedBySensor)
	assert.True(t, frames[2].StoppedBySensor)
	assert.Equal(t, coord.Point{X: 30}, frames[3].Position)
	assert.True(t, frames[3].StoppedBySensor)
}

func TestSimulator_Drop(t *testing.T) {
	sim := NewSimulator(FourField, coord.Point{})
	sim.Interval = time.Millisecond
	sim.DropEvery = 2
	defer sim.Close()

	io.WriteString(sim, "MOVY,5.0000\n")
	io.WriteString(sim, "MOVY,9.0000\n")

	frames := readFrames(t, sim, Parser{Dialect: FourField}, 1)
	assert.Equal(t, coord.Point{Y: 5}, frames[0].Position)
}

func TestSimulator_Close(t *testing.T) {
	sim := NewSimulator(NineField, coord.Point{})
	sim.Interval = time.Hour
	sim.Close()

	_, err := sim.Read(make([]byte, 10))
	assert.Equal(t, io.EOF, err)
	_, err = sim.Write([]byte("POLO,0\n"))
	assert.Equal(t, io.ErrClosedPipe, err)
}
