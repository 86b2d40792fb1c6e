// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bus implements the VoSPI packet transports.
//
// Both implement lepton.Transport. They can be closed and opened again, which
// is how the camera is resynchronized after a reboot.
package bus

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
)

// Speed bounds supported by the camera on SPI. Low rate is less likely to get
// electromagnetic interference; the camera supports up to 20MHz officially
// but many boards run fine a bit higher.
const (
	MinSpeed     = 10 * physic.MegaHertz
	MaxSpeed     = 30 * physic.MegaHertz
	DefaultSpeed = 20 * physic.MegaHertz
)

// SPI reads VoSPI packets over a SPI port, in mode 3 with 8 bits words.
//
// A read can block forever if the driver does; there is no timeout.
type SPI struct {
	name  string
	speed physic.Frequency
	open  func(name string) (spi.PortCloser, error)

	mu   sync.Mutex
	port spi.PortCloser
	conn spi.Conn
}

// NewSPI returns a SPI transport on port name, e.g. "/dev/spidev0.0" or "" for
// the first port. The port is not opened.
func NewSPI(name string, speed physic.Frequency) (*SPI, error) {
	if speed < MinSpeed || speed > MaxSpeed {
		return nil, fmt.Errorf("bus: SPI speed %s out of range [%s, %s]", speed, MinSpeed, MaxSpeed)
	}
	return &SPI{name: name, speed: speed, open: spireg.Open}, nil
}

func (s *SPI) String() string {
	return fmt.Sprintf("SPI(%s@%s)", s.name, s.speed)
}

// Open opens the port. It is a no-op if already open.
func (s *SPI) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	p, err := s.open(s.name)
	if err != nil {
		return err
	}
	c, err := p.Connect(s.speed, spi.Mode3, 8)
	if err != nil {
		p.Close()
		return err
	}
	s.port = p
	s.conn = c
	return nil
}

// Read reads one packet. It always returns an error if the whole buffer
// wasn't read.
func (s *SPI) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0, errNotOpen
	}
	// Write must occur as read is being done, just send dummy data.
	if err := s.conn.Tx(nil, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the port. It is a no-op if already closed.
func (s *SPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.conn = nil
	return err
}

var errNotOpen = errors.New("bus: not open")
