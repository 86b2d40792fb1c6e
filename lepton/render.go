// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

import (
	"encoding/binary"
	"image"

	"github.com/maruel/leptonview/palette"
)

// Renderer converts segments to colorized pixels.
//
// The working images persist across frames; pixels behind a zero sample keep
// the value of the last frame that rendered them.
type Renderer struct {
	variant Variant
	palette palette.Table
	img     *image.RGBA
	raw     *image.Gray16
	stats   *statsHolder
	logf    func(level int, format string, args ...interface{})
}

func newRenderer(v Variant, p palette.Table, stats *statsHolder, logf func(level int, format string, args ...interface{})) *Renderer {
	r := v.Bounds()
	return &Renderer{
		variant: v,
		palette: p,
		img:     image.NewRGBA(r),
		raw:     image.NewGray16(r),
		stats:   stats,
		logf:    logf,
	}
}

// Render draws the segments through the colormap and returns a copy of the
// result.
//
// A zero sample is an invalid reading; the rest of its packet is skipped.
func (r *Renderer) Render(segments [][]byte, w Window, c *Counters) *Frame {
	width := r.img.Rect.Dx()
	multi := r.variant.Segments() > 1
	for s, seg := range segments {
		words := len(seg) / 2
		for i := 0; i < words; i++ {
			pw := i % PacketWords
			if pw < HeaderWords {
				continue
			}
			v := binary.BigEndian.Uint16(seg[2*i:])
			if v == 0 {
				c.ZeroValues++
				r.stats.update(func(st *Stats) { st.ZeroValues++ })
				if c.ZeroValues%12 == 0 {
					r.logf(LevelWarning, "[WARNING] found zero-value %d", c.ZeroValues)
				}
				// Skip to the end of the packet.
				i += PacketWords - 1 - pw
				continue
			}
			var x, y int
			if multi {
				x = pw - HeaderWords + (width/2)*((i%(2*PacketWords))/PacketWords)
				y = (i/PacketWords)/2 + rowsPerSegment*s
			} else {
				x = pw - HeaderWords
				y = i / PacketWords
			}
			r.set(x, y, v, w)
		}
	}
	if c.ZeroValues != 0 {
		r.logf(LevelRecover, "[WARNING] zero-value recovered: %d", c.ZeroValues)
		c.ZeroValues = 0
	}
	return &Frame{RGBA: cloneRGBA(r.img), Raw: cloneGray16(r.raw), Window: w}
}

func (r *Renderer) set(x, y int, v uint16, w Window) {
	c := r.palette.At(w.Intensity(v))
	o := r.img.PixOffset(x, y)
	p := r.img.Pix[o : o+4 : o+4]
	p[0] = c.R
	p[1] = c.G
	p[2] = c.B
	p[3] = 0xFF
	o = r.raw.PixOffset(x, y)
	r.raw.Pix[o] = uint8(v >> 8)
	r.raw.Pix[o+1] = uint8(v)
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

func cloneGray16(src *image.Gray16) *image.Gray16 {
	dst := image.NewGray16(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
