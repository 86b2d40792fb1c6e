// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

import (
	"encoding/binary"
	"fmt"
)

// Window is the range of raw values mapped to the 256 colormap intensities.
type Window struct {
	Min     uint16
	Max     uint16
	AutoMin bool // Min is measured on every frame.
	AutoMax bool // Max is measured on every frame.
}

// AutoWindow returns a window measured on every frame. The bounds are the
// ones used until a frame with non-zero samples is seen.
func AutoWindow() Window {
	return Window{Min: 30000, Max: 32000, AutoMin: true, AutoMax: true}
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d]", w.Min, w.Max)
}

// Span returns Max-Min. A degenerate window has a span of 1.
func (w Window) Span() int {
	if s := int(w.Max) - int(w.Min); s > 0 {
		return s
	}
	return 1
}

// Scale returns the factor converting a raw value above Min to an intensity.
func (w Window) Scale() float64 {
	return 255. / float64(w.Span())
}

// Intensity returns the colormap index for v. Values below Min map to 0.
// Values above Max exceed 255 and are clamped by the colormap.
func (w Window) Intensity(v uint16) int {
	if v <= w.Min {
		return 0
	}
	return (int(v) - int(w.Min)) * 255 / w.Span()
}

// Estimate returns the effective window for the segments of a frame.
//
// Fixed bounds are returned as is. Automatic bounds are the minimum and
// maximum of the samples, ignoring the packet headers and zero samples which
// are invalid readings. A frame without valid sample keeps cfg's bounds.
func Estimate(segments [][]byte, cfg Window) Window {
	if !cfg.AutoMin && !cfg.AutoMax {
		return cfg
	}
	lo, hi := uint16(0xFFFF), uint16(0)
	found := false
	for _, seg := range segments {
		for i := 0; i < len(seg)/2; i++ {
			if i%PacketWords < HeaderWords {
				continue
			}
			v := binary.BigEndian.Uint16(seg[2*i:])
			if v == 0 {
				continue
			}
			found = true
			if v > hi {
				hi = v
			}
			if v < lo {
				lo = v
			}
		}
	}
	out := cfg
	if !found {
		return out
	}
	if cfg.AutoMin {
		out.Min = lo
	}
	if cfg.AutoMax {
		out.Max = hi
	}
	return out
}
