package machine

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/link"
)

// Poller continuously reads telemetry and commits it to a Store.
//
// When a Poller is running, it must be the only reader of its link;
// set Config.Polled on the Machine sharing the store.
type Poller struct {
	link   Link
	parser Parser
	store  *Store
}

func NewPoller(l Link, p Parser, s *Store) *Poller {
	return &Poller{link: l, parser: p, store: s}
}

// Run reads until ctx is done or the link is closed.
//
// Malformed frames are logged and skipped. A read error ends the loop,
// since the link does not recover from one.
func (p *Poller) Run(ctx context.Context) error {
	for {
		line, ok, err := p.link.ReadLine(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if !errors.Is(err, link.ErrClosed) {
				log.Println("ERROR: read telemetry:", err)
			}
			return err
		}
		if !ok {
			continue
		}

		f, err := p.parser.Parse(line)
		if err != nil {
			log.Printf("ERROR: parse telemetry '%s': %v", line, err)
			continue
		}
		p.store.Commit(*f)
	}
}
