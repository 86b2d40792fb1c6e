// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/leptonview/leptontest"
	"github.com/maruel/leptonview/palette"
)

func TestNew_fail(t *testing.T) {
	data := []struct {
		name string
		t    Transport
		cfg  func(c *Config)
	}{
		{"transport", nil, func(c *Config) {}},
		{"variant", &leptontest.Bus{}, func(c *Config) { c.Variant = 4 }},
		{"palette", &leptontest.Bus{}, func(c *Config) { c.Palette = nil }},
		{"window", &leptontest.Bus{}, func(c *Config) { c.Window = Window{Min: 100, Max: 100} }},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			cfg := DefaultConfig()
			line.cfg(&cfg)
			if _, err := New(line.t, nil, cfg); err == nil {
				t.Fatal("expected failure")
			}
		})
	}
}

func TestNew_defaults(t *testing.T) {
	l, err := New(&leptontest.Bus{}, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	cfg := l.Config()
	if cfg.ResyncLimit != 750 || cfg.ResyncPause != time.Millisecond || cfg.RebootPause != 750*time.Millisecond {
		t.Fatalf("%d %s %s", cfg.ResyncLimit, cfg.ResyncPause, cfg.RebootPause)
	}
	if err := l.TriggerFFC(); err == nil {
		t.Fatal("expected failure without a control channel")
	}
}

func TestRun_lepton2(t *testing.T) {
	// Fixed window [0, 255] and samples at 128 select entry 128.
	p := ramp(256)
	cfg := DefaultConfig()
	cfg.Palette = p
	cfg.Window = Window{Min: 0, Max: 255}
	b := &leptontest.Bus{}
	b.Queue(leptontest.Segment(0, 128)...)
	l, _ := newLoop(t, b, nil, cfg)
	out := make(chan *Frame, 1)
	if err := runUntilEmpty(l, b, out); err != nil {
		t.Fatal(err)
	}
	f := <-out
	if f.Bounds() != image80x60 {
		t.Fatal(f.Bounds())
	}
	want := p[128]
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			o := f.PixOffset(x, y)
			if got := (palette.RGB{R: f.Pix[o], G: f.Pix[o+1], B: f.Pix[o+2]}); got != want {
				t.Fatalf("(%d, %d): %v != %v", x, y, got, want)
			}
			if v := f.Raw.Gray16At(x, y).Y; v != 128 {
				t.Fatalf("(%d, %d): %d", x, y, v)
			}
		}
	}
	if f.Seq != 1 || f.Stale != nil {
		t.Fatal(f.Seq, f.Stale)
	}
	s := l.Stats()
	if s.GoodFrames != 1 || s.Cycles != 1 || s.Resyncs != 0 || s.DroppedFrames != 0 {
		t.Fatalf("%+v", s)
	}
	if b.Opens != 1 || b.Closes != 1 {
		t.Fatal(b.Opens, b.Closes)
	}
}

func TestRun_lepton3(t *testing.T) {
	scene := leptontest.NewScene(160, 120)
	samples := scene.Next()
	cfg := DefaultConfig()
	cfg.Variant = Lepton3
	b := &leptontest.Bus{}
	b.Queue(leptontest.Packets(samples, 160, 120)...)
	l, _ := newLoop(t, b, nil, cfg)
	out := make(chan *Frame, 1)
	if err := runUntilEmpty(l, b, out); err != nil {
		t.Fatal(err)
	}
	f := <-out
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			if got, want := f.Raw.Gray16At(x, y).Y, samples[y*160+x]; got != want {
				t.Fatalf("(%d, %d): %d != %d", x, y, got, want)
			}
		}
	}
	if !f.Window.AutoMin || f.Window.Min >= f.Window.Max {
		t.Fatal(f.Window)
	}
	if s := l.Stats(); s.Cycles != 4 || s.GoodFrames != 1 {
		t.Fatalf("%+v", s)
	}
}

func TestRun_stale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Variant = Lepton3
	b := &leptontest.Bus{}
	for s := 1; s <= 4; s++ {
		b.Queue(leptontest.Segment(s, 1000)...)
	}
	b.Queue(leptontest.Segment(4, 2000)...)
	l, logs := newLoop(t, b, nil, cfg)
	l.cfg.LogLevel = LevelRecover
	out := make(chan *Frame, 2)
	if err := runUntilEmpty(l, b, out); err != nil {
		t.Fatal(err)
	}
	if f := <-out; f.Stale != nil {
		t.Fatal(f.Stale)
	}
	f := <-out
	if diff := cmp.Diff([]int{1, 2, 3}, f.Stale); diff != "" {
		t.Fatalf("(-want +got)\n%s", diff)
	}
	// The top three quarters are from the previous frame.
	if v := f.Raw.Gray16At(0, 0).Y; v != 1000 {
		t.Fatal(v)
	}
	if v := f.Raw.Gray16At(159, 119).Y; v != 2000 {
		t.Fatal(v)
	}
	if s := l.Stats(); s.StaleSegments != 3 {
		t.Fatalf("%+v", s)
	}
	if !strings.Contains(logs.String(), "stale segments [1 2 3]") {
		t.Fatal(logs.String())
	}
}

func TestRun_dropped(t *testing.T) {
	b := &leptontest.Bus{}
	b.Queue(leptontest.Segment(0, 100)...)
	b.Queue(leptontest.Segment(0, 100)...)
	l, _ := newLoop(t, b, nil, DefaultConfig())
	// Nobody is listening.
	if err := runUntilEmpty(l, b, make(chan *Frame)); err != nil {
		t.Fatal(err)
	}
	want := Stats{Cycles: 2, DroppedFrames: 2, TransferFails: 1}
	if diff := cmp.Diff(want, l.Stats()); diff != "" {
		t.Fatalf("(-want +got)\n%s", diff)
	}
}

func TestRun_open_fail(t *testing.T) {
	b := &leptontest.Bus{OpenErr: errors.New("no device")}
	l, _ := newLoop(t, b, nil, DefaultConfig())
	if err := l.Run(context.Background(), make(chan *Frame)); err == nil {
		t.Fatal("expected failure")
	}
	if b.Closes != 0 {
		t.Fatal(b.Closes)
	}
}

func TestRun_canceled(t *testing.T) {
	b := &leptontest.Bus{}
	l, _ := newLoop(t, b, nil, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx, make(chan *Frame)); err != nil {
		t.Fatal(err)
	}
	if b.Opens != 1 || b.Closes != 1 || b.Reads != 0 {
		t.Fatal(b.Opens, b.Closes, b.Reads)
	}
}

func TestTriggerFFC(t *testing.T) {
	c := &leptontest.Control{}
	l, _ := newLoop(t, &leptontest.Bus{}, c, DefaultConfig())
	if err := l.TriggerFFC(); err != nil {
		t.Fatal(err)
	}
	if c.FFCs() != 1 || c.Reboots() != 0 {
		t.Fatal(c.FFCs(), c.Reboots())
	}
}

func TestLogf(t *testing.T) {
	l, logs := newLoop(t, &leptontest.Bus{}, nil, DefaultConfig())
	l.cfg.LogLevel = LevelWarning
	l.logf(LevelResets, "a")
	l.logf(LevelWarning, "b")
	l.logf(LevelRecover, "c")
	l.logf(LevelError, "d")
	if s := logs.String(); s != "a\nb\n" {
		t.Fatalf("%q", s)
	}
}

//

var image80x60 = Lepton2.Bounds()

// newLoop returns a Loop that doesn't sleep and logs into a buffer.
func newLoop(t *testing.T, b *leptontest.Bus, ctl Controller, cfg Config) (*Loop, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg.Logger = log.New(buf, "", 0)
	if ctl == nil {
		ctl = &leptontest.Control{}
	}
	l, err := New(b, ctl, cfg)
	if err != nil {
		t.Fatal(err)
	}
	l.reader.sleep = func(time.Duration) {}
	return l, buf
}

// runUntilEmpty runs l until b has no more packets.
func runUntilEmpty(l *Loop, b *leptontest.Bus, out chan<- *Frame) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.OnEmpty = cancel
	return l.Run(ctx, out)
}

// ramp returns a palette where each entry is distinct.
func ramp(n int) palette.Table {
	p := make(palette.Table, n)
	for i := range p {
		p[i] = palette.RGB{R: uint8(i), G: uint8(255 - i), B: uint8(i / 2)}
	}
	return p
}

// logRecorder collects messages at or below level.
type logRecorder struct {
	level int
	msgs  []string
}

func (r *logRecorder) logf(level int, format string, args ...interface{}) {
	if level <= r.level {
		r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
	}
}
