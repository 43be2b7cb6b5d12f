package link

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	lineBufferSize = 64

	// maxLineLength bounds a single line; longer input is dropped up to
	// the next newline.
	maxLineLength = 4096
)

// ErrClosed is returned by read and write methods once the link
// has been closed or the underlying device has disconnected.
var ErrClosed = errors.New("link closed")

// Conn is a newline-delimited text link to a controller.
//
// A single background goroutine reads from the device; ReadLine
// hands out complete lines one at a time. Writes are serialized.
type Conn struct {
	rw          io.ReadWriter
	readTimeout time.Duration

	lines   chan line
	done    chan struct{}
	readErr error

	// gen is bumped by Discard; lines read before that are skipped.
	gen uint64

	closeCh   chan struct{}
	closeOnce sync.Once

	wMx sync.Mutex
}

type line struct {
	text string
	gen  uint64
}

// NewConn creates a new Conn using the provided ReadWriter for data.
//
// A Read that returns no data and no error is treated as "nothing
// available yet"; any error ends the read loop.
func NewConn(rw io.ReadWriter, readTimeout time.Duration) *Conn {
	c := &Conn{
		rw:          rw,
		readTimeout: readTimeout,
		lines:       make(chan line, lineBufferSize),
		done:        make(chan struct{}),
		closeCh:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close will abort any in-progress reads and close the
// underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// cleanLine strips line endings and drops bytes that are not valid UTF-8.
func cleanLine(data []byte) string {
	data = bytes.TrimRight(data, "\r\n")
	return strings.TrimSpace(strings.ToValidUTF8(string(data), ""))
}

func (c *Conn) readLoop() {
	defer close(c.done)

	buf := make([]byte, 256)
	var pending []byte
	var overflow bool
	for {
		n, err := c.rw.Read(buf)
		gen := atomic.LoadUint64(&c.gen)
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			text := cleanLine(pending[:i])
			pending = pending[i+1:]
			if overflow {
				overflow = false
				continue
			}
			if text == "" {
				continue
			}
			select {
			case c.lines <- line{text: text, gen: gen}:
			case <-c.closeCh:
				c.readErr = ErrClosed
				return
			}
		}
		if len(pending) > maxLineLength {
			pending = pending[:0]
			overflow = true
		}
		if err != nil {
			select {
			case <-c.closeCh:
				c.readErr = ErrClosed
			default:
				c.readErr = errors.Wrap(err, "read")
			}
			return
		}
		select {
		case <-c.closeCh:
			c.readErr = ErrClosed
			return
		default:
		}
	}
}

// Discard drops every line received so far, including lines the
// reader is still holding. The next ReadLine returns only data read
// from the device after this call.
func (c *Conn) Discard() {
	atomic.AddUint64(&c.gen, 1)
	for {
		select {
		case <-c.lines:
		default:
			return
		}
	}
}

// ReadLine returns the next line received from the device.
//
// If no line arrives within the read timeout, ok is false and err is nil.
// A non-positive read timeout waits until a line, an error, or ctx is done.
func (c *Conn) ReadLine(ctx context.Context) (text string, ok bool, err error) {
	select {
	case <-c.closeCh:
		return "", false, ErrClosed
	default:
	}

	var timeout <-chan time.Time
	if c.readTimeout > 0 {
		t := time.NewTimer(c.readTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case l := <-c.lines:
			if c.stale(l) {
				continue
			}
			return l.text, true, nil
		case <-c.done:
			// lines read before the device went away are still delivered
			for {
				select {
				case l := <-c.lines:
					if c.stale(l) {
						continue
					}
					return l.text, true, nil
				default:
				}
				return "", false, c.readErr
			}
		case <-timeout:
			return "", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (c *Conn) stale(l line) bool { return l.gen < atomic.LoadUint64(&c.gen) }

// WriteLine writes text followed by a newline.
func (c *Conn) WriteLine(text string) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	c.wMx.Lock()
	_, err := io.WriteString(c.rw, text+"\n")
	c.wMx.Unlock()
	if err != nil {
		return errors.Wrapf(err, "write line %q", text)
	}
	return nil
}
