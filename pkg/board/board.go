// Package board talks to a microcontroller I/O board over a serial link.
//
// The board firmware answers one line per request:
//
//	?              -> linebot-io <version>
//	R <pin>        -> 0 | 1
//	A <pin> <duty> -> ok
//	D <pin> <0|1>  -> ok
//	S <pin> <deg>  -> ok
package board

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/gwillem/linebot/pkg/hw"
)

// Banner prefixes the handshake reply.
const Banner = "linebot-io"

var (
	// ErrHandshake is returned when the port does not answer like a board.
	ErrHandshake = errors.New("board: handshake failed")
	// ErrReply is returned for any reply other than the expected one.
	ErrReply = errors.New("board: unexpected reply")
	// ErrTimeout is returned when no reply arrives within the read timeout.
	ErrTimeout = errors.New("board: reply timeout")
)

// resyncLines bounds how many stale replies a resync discards.
const resyncLines = 16

// Config selects the serial port.
type Config struct {
	Port    string
	Baud    int
	Timeout time.Duration
}

// Board is an I/O board implementing hw.LineReader, hw.MotorDriver and hw.Mount.
type Board struct {
	mu      sync.Mutex
	conn    io.ReadWriter
	closer  io.Closer
	stale   bool // a reply may still be in flight
	r       *bufio.Reader
	w       *bufio.Writer
	pins    hw.Pins
	version string

	dutyCache map[int]uint8
}

// Open opens the serial port and performs the handshake.
func Open(cfg Config, pins hw.Pins) (*Board, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 200 * time.Millisecond
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	b, err := New(port, pins)
	if err != nil {
		port.Close()
		return nil, err
	}
	b.closer = port
	return b, nil
}

// New wraps an already open connection and performs the handshake.
func New(conn io.ReadWriter, pins hw.Pins) (*Board, error) {
	b := &Board{
		conn:      conn,
		r:         bufio.NewReader(timeoutReader{conn}),
		w:         bufio.NewWriter(conn),
		pins:      pins,
		dutyCache: make(map[int]uint8),
	}
	reply, err := b.request("?")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	version, ok := strings.CutPrefix(reply, Banner+" ")
	if !ok {
		return nil, fmt.Errorf("%w: got %q", ErrHandshake, reply)
	}
	b.version = version
	return b, nil
}

// Version returns the firmware version reported at handshake.
func (b *Board) Version() string {
	return b.version
}

// Close closes the serial port.
func (b *Board) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// ReadLine implements hw.LineReader.
func (b *Board) ReadLine(_ context.Context, sensor int) (bool, error) {
	if sensor < 0 || sensor >= len(b.pins.Sensors) {
		return false, fmt.Errorf("sensor %d not wired", sensor)
	}
	reply, err := b.request(fmt.Sprintf("R %d", b.pins.Sensors[sensor]))
	if err != nil {
		return false, err
	}
	switch reply {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	b.markStale()
	return false, fmt.Errorf("%w: read pin %d: %q", ErrReply, b.pins.Sensors[sensor], reply)
}

// WriteDuty implements hw.MotorDriver. Repeated writes of the same duty
// are not sent again.
func (b *Board) WriteDuty(_ context.Context, actuator int, duty uint8) error {
	pin := b.pins.Motors[actuator].PWM
	b.mu.Lock()
	old, cached := b.dutyCache[pin]
	b.mu.Unlock()
	if cached && old == duty {
		return nil
	}
	if err := b.expectOK(fmt.Sprintf("A %d %d", pin, duty)); err != nil {
		return err
	}
	b.mu.Lock()
	b.dutyCache[pin] = duty
	b.mu.Unlock()
	return nil
}

// WritePolarity implements hw.MotorDriver.
func (b *Board) WritePolarity(_ context.Context, actuator int, high bool) error {
	level := 0
	if high {
		level = 1
	}
	return b.expectOK(fmt.Sprintf("D %d %d", b.pins.Motors[actuator].Dir, level))
}

// WriteAngle implements hw.Mount for a hobby servo on the board.
// Angles are constrained to 0..180 like the firmware's servo library.
func (b *Board) WriteAngle(_ context.Context, degrees int) error {
	degrees = min(max(degrees, 0), 180)
	return b.expectOK(fmt.Sprintf("S %d %d", b.pins.Servo, degrees))
}

func (b *Board) expectOK(cmd string) error {
	reply, err := b.request(cmd)
	if err != nil {
		return err
	}
	if reply != "ok" {
		b.markStale()
		return fmt.Errorf("%w: %s: %q", ErrReply, cmd, reply)
	}
	return nil
}

func (b *Board) markStale() {
	b.mu.Lock()
	b.stale = true
	b.mu.Unlock()
}

// request sends cmd and reads one reply line. After a failed or garbled
// exchange the link is resynced first so replies stay paired with their
// requests.
func (b *Board) request(cmd string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale {
		if err := b.resync(); err != nil {
			return "", fmt.Errorf("resync before %q: %w", cmd, err)
		}
	}
	reply, err := b.exchange(cmd)
	if err != nil {
		b.stale = true
	}
	return reply, err
}

func (b *Board) exchange(cmd string) (string, error) {
	if _, err := fmt.Fprintln(b.w, cmd); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}
	if err := b.w.Flush(); err != nil {
		return "", fmt.Errorf("flush %q: %w", cmd, err)
	}
	line, err := b.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply to %q: %w", cmd, err)
	}
	return strings.TrimSpace(line), nil
}

// resync drops buffered input and sends a handshake. The firmware answers
// in order, so every line before the banner is a late reply to an older
// request.
func (b *Board) resync() error {
	if p, ok := b.conn.(interface{ ResetInputBuffer() error }); ok {
		if err := p.ResetInputBuffer(); err != nil {
			return err
		}
	}
	b.r.Reset(timeoutReader{b.conn})
	b.w.Reset(b.conn)

	if _, err := fmt.Fprintln(b.w, "?"); err != nil {
		return err
	}
	if err := b.w.Flush(); err != nil {
		return err
	}
	for range resyncLines {
		line, err := b.r.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.HasPrefix(strings.TrimSpace(line), Banner) {
			b.stale = false
			return nil
		}
	}
	return fmt.Errorf("%w: no banner after %d lines", ErrReply, resyncLines)
}

// timeoutReader reports a read that returns no data as ErrTimeout. A serial
// port returns (0, nil) when its read timeout expires.
type timeoutReader struct {
	io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.Reader.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}
