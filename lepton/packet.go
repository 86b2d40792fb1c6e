// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/maruel/leptonview/lepton/internal"
)

// packetReader reads the 60 packets of one segment, resynchronizing on
// sequence errors.
type packetReader struct {
	t        Transport
	ctl      Controller
	cfg      *Config
	variant  Variant
	buf      []byte // One segment; reused every cycle.
	lastFail error
	stats    *statsHolder
	logf     func(level int, format string, args ...interface{})
	sleep    func(time.Duration)
}

// acquire fills buf with one segment and returns the segment number.
//
// For Lepton 2.x the segment is always 1. For Lepton 3.x an out of range
// number aborts the cycle as soon as packet 20 is received; the invalid
// number is returned and it's up to the caller to drop the cycle.
//
// On sequence mismatch the read restarts from packet 0. Every
// Config.ResyncLimit consecutive mismatches, the camera is rebooted. The only
// error returned is ctx's, checked while resynchronizing.
func (p *packetReader) acquire(ctx context.Context, c *Counters) (int, error) {
	c.Resyncs = 0
	segment := 1
	for j := 0; j < PacketsPerSegment; j++ {
		pkt := p.buf[j*PacketSize : (j+1)*PacketSize]
		if !p.readPacket(pkt, j) {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			j = -1
			c.Resyncs++
			p.stats.update(func(s *Stats) { s.Resyncs++ })
			p.sleep(p.cfg.ResyncPause)
			if c.Resyncs%p.cfg.ResyncLimit == 0 {
				p.reboot(c)
			}
			continue
		}
		if p.variant == Lepton3 && j == segmentPacket {
			segment = int(pkt[0]>>4) & 0x0f
			if segment < 1 || segment > 4 {
				p.logf(LevelError, "[ERROR] wrong segment number %d", segment)
				break
			}
		}
	}
	if c.Resyncs >= 30 {
		p.logf(LevelResets, "done reading, resets: %d", c.Resyncs)
	}
	return segment, nil
}

// readPacket reads one packet and returns true if it is packet number j.
func (p *packetReader) readPacket(pkt []byte, j int) bool {
	n, err := p.t.Read(pkt)
	if n != len(pkt) && err == nil {
		err = fmt.Errorf("unexpected read %d", n)
	}
	if err != nil {
		p.stats.update(func(s *Stats) { s.TransferFails++ })
		if p.lastFail == nil {
			p.logf(LevelError, "I/O fail: %s", err)
			p.lastFail = err
		}
		return false
	}
	p.lastFail = nil
	if int(pkt[1]) != j {
		return false
	}
	if p.cfg.VerifyCRC {
		if got, want := binary.BigEndian.Uint16(pkt[2:]), internal.PacketCRC(pkt); got != want {
			p.stats.update(func(s *Stats) { s.CRCFails++ })
			p.logf(LevelError, "packet %d: bad CRC 0x%04X, expected 0x%04X", j, got, want)
			return false
		}
	}
	return true
}

// reboot closes the bus, reboots the camera and reopens the bus.
//
// Failures are logged and otherwise ignored; a bus that fails to reopen
// keeps failing reads, which leads to another reboot.
func (p *packetReader) reboot(c *Counters) {
	p.logf(LevelWarning, "[WARNING] rebooting after %d resets", c.Resyncs)
	if err := p.t.Close(); err != nil {
		p.logf(LevelError, "[ERROR] closing bus: %s", err)
	}
	if err := p.ctl.Reboot(); err != nil {
		p.logf(LevelError, "[ERROR] reboot: %s", err)
	}
	c.WrongSegments = 0
	c.ZeroValues = 0
	p.stats.update(func(s *Stats) { s.Reboots++ })
	p.sleep(p.cfg.RebootPause)
	if err := p.t.Open(); err != nil {
		p.logf(LevelError, "[ERROR] reopening bus: %s", err)
	}
}
