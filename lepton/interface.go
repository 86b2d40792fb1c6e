// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

import (
	"errors"
	"image"
	"io"
	"strconv"
)

// Transport is the VoSPI packet channel.
//
// Read must fill p with exactly one packet or return an error. Read may block
// forever if the bus is wedged; there is no timeout unless the implementation
// provides one.
type Transport interface {
	io.ReadCloser
	Open() error
}

// Controller sends out-of-band commands to the camera over its Command and
// Control Interface. Both commands are best effort.
type Controller interface {
	RunFFC() error // RunFFC triggers a Flat Field Correction.
	Reboot() error // Reboot reboots the camera module.
}

// NoControl is a Controller for setups without a control channel.
type NoControl struct{}

func (NoControl) RunFFC() error { return errNoControl }
func (NoControl) Reboot() error { return errNoControl }

// Variant is the camera family. Values match the -tl flag.
type Variant int

// Supported variants.
const (
	// Lepton2 is 80x60 and sends a whole frame in one segment.
	Lepton2 Variant = 2
	// Lepton3 is 160x120 and sends a frame as four segments of 60 packets.
	Lepton3 Variant = 3
)

func (v Variant) String() string {
	switch v {
	case Lepton2:
		return "Lepton 2.x"
	case Lepton3:
		return "Lepton 3.x"
	default:
		return "Variant(" + strconv.Itoa(int(v)) + ")"
	}
}

// Segments returns the number of segments in a frame.
func (v Variant) Segments() int {
	if v == Lepton3 {
		return 4
	}
	return 1
}

// Bounds returns the native resolution.
func (v Variant) Bounds() image.Rectangle {
	if v == Lepton3 {
		return image.Rect(0, 0, 160, 120)
	}
	return image.Rect(0, 0, 80, 60)
}

// VoSPI geometry. A packet is 82 big endian 16 bits words; the first two are
// the ID and the CRC.
const (
	PacketSize        = 164
	PacketWords       = PacketSize / 2
	HeaderWords       = 2
	PacketsPerSegment = 60
	SegmentSize       = PacketSize * PacketsPerSegment

	// segmentPacket is the packet carrying the segment number on Lepton 3.x.
	segmentPacket = 20
	// rowsPerSegment is the number of image rows in one Lepton 3.x segment.
	rowsPerSegment = 30
)

// Counters are the consecutive error counters of one acquisition loop.
//
// They drive the modulo-12 diagnostic messages and are reset on recovery.
type Counters struct {
	Resyncs       int // Packet resynchronizations in the current cycle.
	WrongSegments int // Consecutive cycles with an invalid segment number.
	ZeroValues    int // Zero samples found while rendering.
}

// Stats are cumulative counters since the loop was created.
type Stats struct {
	Cycles        int // Acquisition attempts.
	GoodFrames    int // Frames handed to the consumer.
	DroppedFrames int // Frames rendered while the consumer was busy.
	Resyncs       int // Packet sequence mismatches.
	Reboots       int // Hard recoveries.
	TransferFails int // Bus read errors.
	CRCFails      int // Packets rejected by CRC, when enabled.
	WrongSegments int // Cycles dropped for an invalid segment number.
	ZeroValues    int // Rendering truncations on zero samples.
	StaleSegments int // Segments delivered from an earlier cycle.
}

var errNoControl = errors.New("lepton: no control channel")
