package machine

import (
	"sync"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/machine/ak80"
)

// Snapshot is the last known state of the robot.
type Snapshot struct {
	Position        coord.Point
	StoppedBySensor bool

	// Known is false until the first telemetry frame or setpoint.
	Known bool

	// Seq counts committed telemetry frames.
	Seq uint64
}

// Store holds the believed position of the robot.
//
// All reads and writes replace or copy the whole snapshot under one lock,
// so a reader never sees axes from two different frames.
type Store struct {
	mx      sync.RWMutex
	snap    Snapshot
	updated chan struct{}
}

func NewStore() *Store {
	return &Store{updated: make(chan struct{})}
}

// Get returns the current position and whether it is known.
func (s *Store) Get() (coord.Point, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.snap.Position, s.snap.Known
}

func (s *Store) Snapshot() Snapshot {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.snap
}

// Commit records a telemetry frame and wakes anyone waiting on Updated.
func (s *Store) Commit(f ak80.Frame) Snapshot {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.snap = Snapshot{
		Position:        f.Position,
		StoppedBySensor: f.StoppedBySensor,
		Known:           true,
		Seq:             s.snap.Seq + 1,
	}
	close(s.updated)
	s.updated = make(chan struct{})
	return s.snap
}

// Assume records a commanded setpoint as the current position.
//
// It does not count as telemetry and does not wake Updated waiters.
func (s *Store) Assume(p coord.Point) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.snap = Snapshot{
		Position: p,
		Known:    true,
		Seq:      s.snap.Seq,
	}
}

// Updated returns a channel that is closed on the next Commit.
func (s *Store) Updated() <-chan struct{} {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.updated
}
