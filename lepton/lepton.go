// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lepton acquires video from a FLIR Lepton over its VoSPI bus and
// renders it through a colormap.
//
// References:
// FLIR LEPTON® Long Wave Infrared (LWIR) Datasheet
//   http://cvs.flir.com/lepton-data-brief
//   p. 28-35 SPI protocol explanation.
//
// Lepton 3.x VoSPI segments:
//   A frame is sent as 4 segments of 60 packets. The segment number is
//   stored in the ID of packet 20. Segment 0 means the frame is invalid.
//
// Lepton™ Software Interface Description Document (IDD) for i²c protocol:
//   http://cvs.flir.com/lepton-idd
//
// Connecting to a Raspberry Pi:
//   https://github.com/PureEngineering/LeptonModule/wiki
package lepton

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maruel/leptonview/palette"
)

// Diagnostic levels. A message is logged when its level is at most
// Config.LogLevel.
const (
	LevelResets  = 3  // Cycles that needed many resynchronizations.
	LevelWarning = 5  // Periodic reports of persistent errors.
	LevelRecover = 8  // Recovery from an error condition.
	LevelError   = 10 // Individual protocol errors.
)

// Config is the acquisition configuration.
type Config struct {
	Variant  Variant
	Palette  palette.Table
	Window   Window // Scaling window; bounds flagged Auto are measured every frame.
	LogLevel int    // Diagnostic verbosity, 0-255.

	// VerifyCRC rejects packets whose CRC doesn't match, as a sequence
	// mismatch would be.
	VerifyCRC bool
	// ResyncLimit is the number of resynchronizations that triggers a reboot.
	// Defaults to 750.
	ResyncLimit int
	// ResyncPause is the pause after a resynchronization. Defaults to 1ms.
	ResyncPause time.Duration
	// RebootPause is the time given to the camera to reboot. Defaults to
	// 750ms.
	RebootPause time.Duration

	// Logger receives diagnostic messages. Defaults to the standard logger.
	Logger *log.Logger
}

// DefaultConfig returns the configuration used when no flag is specified:
// Lepton 2.x, ironblack, automatic scaling.
func DefaultConfig() Config {
	return Config{
		Variant: Lepton2,
		Palette: palette.IronBlack.Table(),
		Window:  AutoWindow(),
	}
}

// Loop is the acquisition loop. It owns all the segment state and must be
// run by a single goroutine.
type Loop struct {
	cfg      Config
	t        Transport
	ctl      Controller
	reader   *packetReader
	cache    *SegmentCache
	renderer *Renderer
	counters Counters
	stats    statsHolder
	seq      uint64
}

// New returns an acquisition loop. The transport is opened by Run.
func New(t Transport, ctl Controller, cfg Config) (*Loop, error) {
	if t == nil {
		return nil, errors.New("lepton: transport is required")
	}
	if ctl == nil {
		ctl = NoControl{}
	}
	if cfg.Variant != Lepton2 && cfg.Variant != Lepton3 {
		return nil, fmt.Errorf("lepton: unsupported variant %s", cfg.Variant)
	}
	if len(cfg.Palette) == 0 {
		return nil, errors.New("lepton: palette is empty")
	}
	if w := cfg.Window; !w.AutoMin && !w.AutoMax && w.Max <= w.Min {
		return nil, fmt.Errorf("lepton: invalid scaling window [%d, %d]", w.Min, w.Max)
	}
	if cfg.ResyncLimit <= 0 {
		cfg.ResyncLimit = 750
	}
	if cfg.ResyncPause <= 0 {
		cfg.ResyncPause = time.Millisecond
	}
	if cfg.RebootPause <= 0 {
		cfg.RebootPause = 750 * time.Millisecond
	}
	l := &Loop{cfg: cfg, t: t, ctl: ctl}
	l.reader = &packetReader{
		t:       t,
		ctl:     ctl,
		cfg:     &l.cfg,
		buf:     make([]byte, SegmentSize),
		stats:   &l.stats,
		logf:    l.logf,
		sleep:   time.Sleep,
		variant: cfg.Variant,
	}
	l.cache = newSegmentCache(cfg.Variant, &l.stats, l.logf)
	l.renderer = newRenderer(cfg.Variant, cfg.Palette, &l.stats, l.logf)
	return l, nil
}

// Run opens the transport and acquires frames until ctx is canceled.
//
// Each completed frame is sent on out without blocking; if the consumer is
// not ready the frame is dropped. The frame is a copy, the consumer owns it.
//
// Run only returns an error if the transport cannot be opened. The transport
// is closed when Run returns.
func (l *Loop) Run(ctx context.Context, out chan<- *Frame) error {
	if err := l.t.Open(); err != nil {
		return fmt.Errorf("lepton: failed to open transport: %w", err)
	}
	defer l.t.Close()
	for ctx.Err() == nil {
		if f := l.cycle(ctx); f != nil {
			select {
			case out <- f:
				l.stats.update(func(s *Stats) { s.GoodFrames++ })
			default:
				l.stats.update(func(s *Stats) { s.DroppedFrames++ })
			}
		}
	}
	return nil
}

// TriggerFFC runs a Flat Field Correction. It is safe to call concurrently
// with Run.
func (l *Loop) TriggerFFC() error {
	return l.ctl.RunFFC()
}

// Stats returns a snapshot of the cumulative counters. It is safe to call
// concurrently with Run.
func (l *Loop) Stats() Stats {
	return l.stats.get()
}

// Config returns the effective configuration.
func (l *Loop) Config() Config {
	return l.cfg
}

// Private details.

// cycle runs one acquisition attempt. It returns nil when no frame is
// completed.
func (l *Loop) cycle(ctx context.Context) *Frame {
	segment, err := l.reader.acquire(ctx, &l.counters)
	if err != nil {
		return nil
	}
	l.stats.update(func(s *Stats) { s.Cycles++ })
	if !l.cache.Absorb(l.reader.buf, segment, &l.counters) {
		return nil
	}
	stale := l.cache.Stale()
	if len(stale) != 0 {
		l.logf(LevelRecover, "[WARNING] stale segments %v", stale)
	}
	segments := l.cache.Segments()
	w := Estimate(segments, l.cfg.Window)
	f := l.renderer.Render(segments, w, &l.counters)
	l.seq++
	f.Seq = l.seq
	f.Stale = stale
	return f
}

func (l *Loop) logf(level int, format string, args ...interface{}) {
	if level > l.cfg.LogLevel {
		return
	}
	if l.cfg.Logger != nil {
		l.cfg.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

type statsHolder struct {
	mu sync.Mutex
	s  Stats
}

func (h *statsHolder) update(f func(s *Stats)) {
	h.mu.Lock()
	f(&h.s)
	h.mu.Unlock()
}

func (h *statsHolder) get() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s
}
