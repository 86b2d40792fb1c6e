// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/leptonview/leptontest"
	"github.com/maruel/leptonview/palette"
)

func TestRender_lepton2(t *testing.T) {
	p := ramp(256)
	r := newRenderer(Lepton2, p, &statsHolder{}, (&logRecorder{}).logf)
	f := r.Render(segment(leptontest.Segment(0, 128)), Window{Min: 0, Max: 255}, &Counters{})
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			if got := rgbAt(f, x, y); got != p[128] {
				t.Fatalf("(%d, %d): %v", x, y, got)
			}
		}
	}
}

func TestRender_coordinates(t *testing.T) {
	// Each sample encodes its destination.
	pkts := make([][]byte, PacketsPerSegment)
	for y := range pkts {
		s := make([]uint16, 80)
		for x := range s {
			s[x] = uint16(y*80 + x + 1)
		}
		pkts[y] = leptontest.Packet(y, 0, s)
	}
	r := newRenderer(Lepton2, ramp(256), &statsHolder{}, (&logRecorder{}).logf)
	f := r.Render(segment(pkts), AutoWindow(), &Counters{})
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			if v := f.Raw.Gray16At(x, y).Y; int(v) != y*80+x+1 {
				t.Fatalf("(%d, %d): %d", x, y, v)
			}
		}
	}
	if f.Window.Min != 1 || f.Window.Max != 4800 {
		t.Fatal(f.Window)
	}
}

func TestRender_lepton3_coverage(t *testing.T) {
	// Every sample of every segment is unique; every pixel must be written
	// exactly once.
	segs := make([][]byte, 4)
	for s := range segs {
		pkts := make([][]byte, PacketsPerSegment)
		for p := range pkts {
			samples := make([]uint16, 80)
			for i := range samples {
				samples[i] = uint16(s*4800 + p*80 + i + 1)
			}
			id := 0
			if p == segmentPacket {
				id = s + 1
			}
			pkts[p] = leptontest.Packet(p, id, samples)
		}
		segs[s] = segment(pkts)[0]
	}
	r := newRenderer(Lepton3, ramp(256), &statsHolder{}, (&logRecorder{}).logf)
	f := r.Render(segs, AutoWindow(), &Counters{})
	if f.Bounds() != Lepton3.Bounds() {
		t.Fatal(f.Bounds())
	}
	seen := make(map[uint16]bool, 160*120)
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			v := f.Raw.Gray16At(x, y).Y
			if v == 0 {
				t.Fatalf("(%d, %d) not written", x, y)
			}
			if seen[v] {
				t.Fatalf("(%d, %d): %d written twice", x, y, v)
			}
			seen[v] = true
		}
	}
	// The first packet of segment 2 is the left half of row 30; the second
	// packet is the right half.
	if v := f.Raw.Gray16At(0, 30).Y; v != 4801 {
		t.Fatal(v)
	}
	if v := f.Raw.Gray16At(80, 30).Y; v != 4881 {
		t.Fatal(v)
	}
}

func TestRender_lepton3_identical(t *testing.T) {
	p := ramp(256)
	segs := make([][]byte, 4)
	for s := range segs {
		segs[s] = segment(leptontest.Segment(s+1, 77))[0]
	}
	r := newRenderer(Lepton3, p, &statsHolder{}, (&logRecorder{}).logf)
	f := r.Render(segs, Window{Min: 0, Max: 255}, &Counters{})
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			if got := rgbAt(f, x, y); got != p[77] {
				t.Fatalf("(%d, %d): %v", x, y, got)
			}
		}
	}
}

func TestRender_clamp(t *testing.T) {
	p := palette.Table{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}, {R: 7, G: 8, B: 9}}
	r := newRenderer(Lepton2, p, &statsHolder{}, (&logRecorder{}).logf)
	for _, v := range []uint16{255, 60000} {
		f := r.Render(segment(leptontest.Segment(0, v)), Window{Min: 0, Max: 255}, &Counters{})
		if got := rgbAt(f, 79, 59); got != p[2] {
			t.Fatalf("%d: %v", v, got)
		}
	}
	// Below the window.
	f := r.Render(segment(leptontest.Segment(0, 5)), Window{Min: 10, Max: 255}, &Counters{})
	if got := rgbAt(f, 0, 0); got != p[0] {
		t.Fatal(got)
	}
}

func TestRender_zero(t *testing.T) {
	p := ramp(256)
	st := &statsHolder{}
	rec := &logRecorder{level: LevelRecover}
	r := newRenderer(Lepton2, p, st, rec.logf)
	w := Window{Min: 0, Max: 255}
	c := Counters{}
	r.Render(segment(leptontest.Segment(0, 50)), w, &c)

	pkts := leptontest.Segment(0, 60)
	// Sample 40 of row 10 is invalid.
	binary.BigEndian.PutUint16(pkts[10][4+2*40:], 0)
	f := r.Render(segment(pkts), w, &c)
	if got := rgbAt(f, 39, 10); got != p[60] {
		t.Fatal(got)
	}
	// The rest of the row keeps the previous frame.
	for x := 40; x < 80; x++ {
		if got := rgbAt(f, x, 10); got != p[50] {
			t.Fatalf("%d: %v", x, got)
		}
	}
	// The next row is rendered.
	if got := rgbAt(f, 0, 11); got != p[60] {
		t.Fatal(got)
	}
	if c.ZeroValues != 0 || st.get().ZeroValues != 1 {
		t.Fatal(c.ZeroValues, st.get().ZeroValues)
	}
	if diff := cmp.Diff([]string{"[WARNING] zero-value recovered: 1"}, rec.msgs); diff != "" {
		t.Fatalf("(-want +got)\n%s", diff)
	}
}

func TestRender_zero_logged(t *testing.T) {
	rec := &logRecorder{level: LevelWarning}
	r := newRenderer(Lepton2, ramp(256), &statsHolder{}, rec.logf)
	pkts := leptontest.Segment(0, 60)
	for i := 0; i < 25; i++ {
		binary.BigEndian.PutUint16(pkts[i][4:], 0)
	}
	r.Render(segment(pkts), AutoWindow(), &Counters{})
	want := []string{
		"[WARNING] found zero-value 12",
		"[WARNING] found zero-value 24",
	}
	if diff := cmp.Diff(want, rec.msgs); diff != "" {
		t.Fatalf("(-want +got)\n%s", diff)
	}
}

func TestRender_copy(t *testing.T) {
	r := newRenderer(Lepton2, ramp(256), &statsHolder{}, (&logRecorder{}).logf)
	w := Window{Min: 0, Max: 255}
	f1 := r.Render(segment(leptontest.Segment(0, 10)), w, &Counters{})
	f2 := r.Render(segment(leptontest.Segment(0, 20)), w, &Counters{})
	if f1.Raw.Gray16At(0, 0).Y != 10 || f2.Raw.Gray16At(0, 0).Y != 20 {
		t.Fatal("frames are aliased")
	}
	if &f1.Pix[0] == &r.img.Pix[0] {
		t.Fatal("working buffer leaked")
	}
}

//

func rgbAt(f *Frame, x, y int) palette.RGB {
	o := f.PixOffset(x, y)
	return palette.RGB{R: f.Pix[o], G: f.Pix[o+1], B: f.Pix[o+2]}
}
