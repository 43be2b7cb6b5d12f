package machine

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/coord"
	"github.com/mastercactapus/deliverybot/link"
)

// WaitFor blocks until telemetry shows cmd has completed.
//
// Each frame that does not show arrival, and each failed read, causes cmd
// to be sent again in case the controller dropped it. The wait ends with a
// *TargetNotReachedError once MaxAttempts frames or MoveTimeout have passed.
func (m *Machine) WaitFor(ctx context.Context, cmd Command) (coord.Point, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.waitFor(ctx, cmd)
}

func (m *Machine) waitFor(ctx context.Context, cmd Command) (coord.Point, error) {
	start := m.clock.Now()
	var last coord.Point
	var known bool

	for attempt := 1; ; attempt++ {
		f, err := m.nextFrame(ctx)
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if errors.Is(err, link.ErrClosed) {
			return last, err
		}
		if err == nil {
			last, known = f.Position, true
			if cmd.Reached(f.Position, m.cfg.Tolerance) {
				log.Println("Target reached:", f.Position)
				return f.Position, nil
			}
			if cmd.Sensor && f.StoppedBySensor {
				log.Println("Stopped by sensor:", f.Position)
				return f.Position, nil
			}
		}

		elapsed := m.clock.Since(start)
		if (m.cfg.MaxAttempts > 0 && attempt >= m.cfg.MaxAttempts) ||
			(m.cfg.MoveTimeout > 0 && elapsed >= m.cfg.MoveTimeout) {
			return last, &TargetNotReachedError{
				Command:  cmd,
				Last:     last,
				Known:    known,
				Attempts: attempt,
				Elapsed:  elapsed,
			}
		}

		err = m.issue(cmd)
		if err != nil {
			log.Println("ERROR: resend move:", err)
		}
	}
}
