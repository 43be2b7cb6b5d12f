package link

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Config describes one serial link.
type Config struct {
	// Port is the device path, e.g. /dev/ttyUSB0.
	Port string
	Baud int

	// ReadTimeout bounds a single ReadLine call.
	ReadTimeout time.Duration
}

// ConnectError is returned when a link cannot be opened.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// serialPort hides the EOF that tarm/serial reports when the
// device-side read timeout expires with no data.
type serialPort struct {
	*serial.Port
}

func (p serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if err == io.EOF && n == 0 {
		return 0, nil
	}
	return n, err
}

// Open opens a serial port and starts reading lines from it.
func Open(cfg Config) (*Conn, error) {
	if cfg.Port == "" {
		return nil, &ConnectError{Port: cfg.Port, Err: fmt.Errorf("no port configured")}
	}

	// poll the device at a fraction of the line timeout so Close is noticed promptly
	pollTimeout := 100 * time.Millisecond
	if cfg.ReadTimeout > 0 && cfg.ReadTimeout < pollTimeout {
		pollTimeout = cfg.ReadTimeout
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: pollTimeout,
	})
	if err != nil {
		return nil, &ConnectError{Port: cfg.Port, Err: err}
	}

	return NewConn(serialPort{Port: port}, cfg.ReadTimeout), nil
}
