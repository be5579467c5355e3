// Package serial owns the framed byte-stream link to the thruster
// microcontroller: outbound actuation packets and inbound ESC telemetry
// packets share one serial port.
package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Sentinel errors mirrored from the teacher's actuators package, kept as
// package-level vars rather than ad hoc fmt.Errorf so callers can
// errors.Is against them.
var (
	ErrNotConnected     = errors.New("serial: port not open")
	ErrConnectionFailed = errors.New("serial: failed to open port")
	ErrTimeout          = errors.New("serial: read timeout")
)

// Transport is a thread-safe wrapper around a single serial.Port. The
// output sender owns writes; the ESC decoder owns reads; both share this
// Transport. Its own mutex, not the vehicle state lock, serializes open,
// close and write; reads take the port under the mutex and then read
// outside it (no device I/O ever happens under the vehicle state lock).
type Transport struct {
	mu   sync.Mutex
	port serial.Port
	name string
	baud int
}

// New returns an unopened Transport for the given port name and baud rate.
func New(portName string, baud int) *Transport {
	return &Transport{name: portName, baud: baud}
}

// Open opens the underlying serial port. Safe to call again after Close to
// reconnect.
func (t *Transport) Open() error {
	mode := &serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(t.name, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, t.name, err)
	}

	t.mu.Lock()
	t.port = port
	t.mu.Unlock()
	return nil
}

// IsOpen reports whether the port has been successfully opened.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Close closes the underlying port, if open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Write writes a complete frame to the port. Callers (the output sender)
// implement their own retry-three-times policy on top of this.
func (t *Transport) Write(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrNotConnected
	}
	_, err := t.port.Write(frame)
	return err
}

// ReadByte reads a single byte, honoring timeout. Used by the ESC decoder
// to scan forward for a start byte after a framing error.
func (t *Transport) ReadByte(timeout time.Duration) (byte, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return 0, ErrNotConnected
	}

	port.SetReadTimeout(timeout)
	buf := make([]byte, 1)
	n, err := port.Read(buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return buf[0], nil
}

// ReadFull reads exactly len(buf) bytes, honoring timeout per read call.
func (t *Transport) ReadFull(buf []byte, timeout time.Duration) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	port.SetReadTimeout(timeout)
	_, err := io.ReadFull(port, buf)
	return err
}

// ListPorts enumerates USB-attached serial ports, for diagnostics and
// operator-facing port pickers.
func ListPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, p := range ports {
		if p.IsUSB {
			names = append(names, p.Name)
		}
	}
	return names, nil
}
