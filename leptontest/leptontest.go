// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package leptontest implements a fake Lepton: a VoSPI packet source and a
// control channel, usable without a device.
package leptontest

import (
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"
)

// VoSPI geometry, duplicated so this package can be used by lepton's own
// tests.
const (
	packetSize    = 164
	packetWidth   = 80
	segmentRows   = 60
	segmentPacket = 20
)

// Packet returns a VoSPI packet with ID number and a valid CRC.
//
// segment is stored in the top nibble of the ID; it is only meaningful for
// packet 20 of a Lepton 3.x segment. samples beyond 80 are ignored.
func Packet(number, segment int, samples []uint16) []byte {
	p := make([]byte, packetSize)
	p[0] = byte(segment&0x0f) << 4
	p[1] = byte(number)
	for i := 0; i < len(samples) && i < packetWidth; i++ {
		binary.BigEndian.PutUint16(p[4+2*i:], samples[i])
	}
	binary.BigEndian.PutUint16(p[2:], crc(p))
	return p
}

// Uniform returns n samples of value v.
func Uniform(n int, v uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Segment returns the 60 packets of one segment where every sample is v.
func Segment(segment int, v uint16) [][]byte {
	out := make([][]byte, segmentRows)
	s := Uniform(packetWidth, v)
	for i := range out {
		id := 0
		if i == segmentPacket {
			id = segment
		}
		out[i] = Packet(i, id, s)
	}
	return out
}

// Packets splits a w*h frame of samples into VoSPI packets.
//
// A 80x60 frame is one segment of one row per packet. A 160x120 frame is four
// segments; each row is sent as two packets, left half first.
func Packets(samples []uint16, w, h int) [][]byte {
	var out [][]byte
	if w <= packetWidth {
		for y := 0; y < h; y++ {
			out = append(out, Packet(y, 0, samples[y*w:(y+1)*w]))
		}
		return out
	}
	segments := h * 2 / segmentRows
	for s := 0; s < segments; s++ {
		for p := 0; p < segmentRows; p++ {
			y := p/2 + s*segmentRows/2
			x := (p % 2) * packetWidth
			id := 0
			if p == segmentPacket {
				id = s + 1
			}
			out = append(out, Packet(p, id, samples[y*w+x:y*w+x+packetWidth]))
		}
	}
	return out
}

// Bus is a fake packet transport.
//
// Queued packets are returned in order. When the queue is empty, Source is
// called to refill it; if Source is nil or returns nothing, OnEmpty is called
// and Read returns io.EOF.
type Bus struct {
	mu      sync.Mutex
	queue   [][]byte
	opened  bool
	Source  func() [][]byte
	OnEmpty func()
	OpenErr error // Returned by Open.
	ReadErr error // Returned by Read instead of the next packet, once.

	Opens  int
	Closes int
	Reads  int
}

// Queue appends packets to the queue.
func (b *Bus) Queue(pkts ...[]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, pkts...)
}

// Open implements lepton.Transport.
func (b *Bus) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Opens++
	if b.OpenErr != nil {
		return b.OpenErr
	}
	b.opened = true
	return nil
}

// Read implements lepton.Transport.
func (b *Bus) Read(p []byte) (int, error) {
	b.mu.Lock()
	b.Reads++
	if !b.opened {
		b.mu.Unlock()
		return 0, errClosed
	}
	if err := b.ReadErr; err != nil {
		b.ReadErr = nil
		b.mu.Unlock()
		return 0, err
	}
	if len(b.queue) == 0 && b.Source != nil {
		b.queue = b.Source()
	}
	if len(b.queue) == 0 {
		f := b.OnEmpty
		b.mu.Unlock()
		if f != nil {
			f()
		}
		return 0, io.EOF
	}
	pkt := b.queue[0]
	b.queue = b.queue[1:]
	b.mu.Unlock()
	return copy(p, pkt), nil
}

// Close implements lepton.Transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closes++
	b.opened = false
	return nil
}

// Control is a fake lepton.Controller that counts commands.
type Control struct {
	mu      sync.Mutex
	ffcs    int
	reboots int
	Err     error // Returned by both commands.
}

// RunFFC implements lepton.Controller.
func (c *Control) RunFFC() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ffcs++
	return c.Err
}

// Reboot implements lepton.Controller.
func (c *Control) Reboot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reboots++
	return c.Err
}

// FFCs returns the number of RunFFC calls.
func (c *Control) FFCs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ffcs
}

// Reboots returns the number of Reboot calls.
func (c *Control) Reboots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reboots
}

// Camera returns a Bus streaming a synthetic w*h scene at ~9Hz.
//
// Only 80x60 and 160x120 are supported.
func Camera(w, h int) *Bus {
	s := NewScene(w, h)
	b := &Bus{}
	b.Source = func() [][]byte {
		// ~9hz
		time.Sleep(111 * time.Millisecond)
		return Packets(s.Next(), w, h)
	}
	return b
}

// Scene is a synthetic thermal scene of a few drifting hot and cold spots.
type Scene struct {
	w, h    int
	noise   *noise
	samples []uint16
}

// NewScene returns a deterministic scene.
func NewScene(w, h int) *Scene {
	return &Scene{w: w, h: h, noise: makeNoise(w, h), samples: make([]uint16, w*h)}
}

// Next moves the scene forward and returns its samples, row major. The
// returned slice is reused by the next call.
func (s *Scene) Next() []uint16 {
	s.noise.update()
	s.noise.render(s.samples, s.w, s.h)
	return s.samples
}

//

var errClosed = errors.New("leptontest: bus is closed")

// crc is CRC-16-CCITT over a packet with the ID top nibble and the CRC bytes
// zeroed.
func crc(p []byte) uint16 {
	c := uint16(0)
	for i, b := range p {
		switch i {
		case 0:
			b &= 0x0f
		case 2, 3:
			b = 0
		}
		c ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x1021
			} else {
				c <<= 1
			}
		}
	}
	return c
}

type vector struct {
	intensity float64
	x         float64
	y         float64
}

// noise is cheezy but gets us going for testing without a device.
type noise struct {
	rand    *rand.Rand
	vectors []vector
}

func makeNoise(w, h int) *noise {
	n := &noise{rand: rand.New(rand.NewSource(0))}
	n.vectors = make([]vector, 10)
	for i := range n.vectors {
		n.vectors[i].intensity = n.rand.NormFloat64() * 10 * float64(w) / 80
		n.vectors[i].x = n.rand.NormFloat64()*float64(w)/6 + float64(w)/2
		n.vectors[i].y = n.rand.NormFloat64()*float64(h)/6 + float64(h)/2
	}
	return n
}

func (n *noise) update() {
	for i := range n.vectors {
		n.vectors[i].intensity += n.rand.NormFloat64() * 0.1
		n.vectors[i].x += n.rand.NormFloat64() * 0.1
		n.vectors[i].y += n.rand.NormFloat64() * 0.1
	}
}

func (n *noise) render(dst []uint16, w, h int) {
	const dynamicRange = 128
	for y := 0; y < h; y++ {
		fy := float64(y)
		for x := 0; x < w; x++ {
			fx := float64(x)
			value := float64(8192)
			for _, vect := range n.vectors {
				distance := (vect.x-fx)*(vect.x-fx) + (vect.y-fy)*(vect.y-fy)
				if distance < 1 {
					distance = 1
				}
				value += vect.intensity / distance
			}
			if value >= 8192+dynamicRange {
				value = 8192 + dynamicRange
			}
			if value < 8192-dynamicRange {
				value = 8192 - dynamicRange
			}
			dst[y*w+x] = uint16(value)
		}
	}
}
