// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrTimeout is returned by Serial.Read when a packet is not received in
// time.
var ErrTimeout = errors.New("bus: read timeout")

// Serial reads VoSPI packets streamed verbatim over a serial link, e.g. from
// a microcontroller bridging the camera's SPI port.
type Serial struct {
	name    string
	mode    serial.Mode
	timeout time.Duration
	open    func(name string, mode *serial.Mode) (serialPort, error)

	mu   sync.Mutex
	port serialPort
}

// serialPort is the subset of serial.Port used.
type serialPort interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// NewSerial returns a serial transport on port name at baud rate 8N1.
//
// A zero timeout blocks until a packet is received.
func NewSerial(name string, baud int, timeout time.Duration) (*Serial, error) {
	if baud <= 0 {
		return nil, fmt.Errorf("bus: invalid baud rate %d", baud)
	}
	s := &Serial{
		name:    name,
		mode:    serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
		timeout: timeout,
		open: func(name string, mode *serial.Mode) (serialPort, error) {
			return serial.Open(name, mode)
		},
	}
	return s, nil
}

func (s *Serial) String() string {
	return fmt.Sprintf("Serial(%s@%d)", s.name, s.mode.BaudRate)
}

// Open opens the port. It is a no-op if already open.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	p, err := s.open(s.name, &s.mode)
	if err != nil {
		return err
	}
	if s.timeout > 0 {
		if err := p.SetReadTimeout(s.timeout); err != nil {
			p.Close()
			return err
		}
	}
	s.port = p
	return nil
}

// Read reads one packet. It always returns an error if the whole buffer
// wasn't read.
func (s *Serial) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return 0, errNotOpen
	}
	n := 0
	for n < len(b) {
		m, err := s.port.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			// The port returns 0 bytes on timeout.
			return n, ErrTimeout
		}
	}
	return n, nil
}

// Close closes the port. It is a no-op if already closed.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
