// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

// SegmentCache holds the last received copy of each segment of a frame.
//
// The buffers persist across cycles. Lepton 3.x sends segments 1 to 4 in
// order, and a frame is declared complete when segment 4 is received. If
// segments 1 to 3 were missed in this frame, their content is the one from an
// earlier frame. This is not corrected; Stale reports which segments were not
// refreshed.
type SegmentCache struct {
	shelf     [][]byte
	refreshed []uint64 // Cycle at which each segment was last copied.
	cycle     uint64
	lastReady uint64
	stale     []int
	stats     *statsHolder
	logf      func(level int, format string, args ...interface{})
}

func newSegmentCache(v Variant, stats *statsHolder, logf func(level int, format string, args ...interface{})) *SegmentCache {
	n := v.Segments()
	s := &SegmentCache{
		shelf:     make([][]byte, n),
		refreshed: make([]uint64, n),
		stats:     stats,
		logf:      logf,
	}
	for i := range s.shelf {
		s.shelf[i] = make([]byte, SegmentSize)
	}
	return s
}

// Absorb stores raw as segment number segment and returns true when the frame
// is complete.
//
// An invalid segment number is counted and the cycle is dropped. raw is
// copied.
func (s *SegmentCache) Absorb(raw []byte, segment int, c *Counters) bool {
	s.cycle++
	if segment < 1 || segment > len(s.shelf) {
		c.WrongSegments++
		s.stats.update(func(st *Stats) { st.WrongSegments++ })
		if c.WrongSegments%12 == 0 {
			s.logf(LevelWarning, "[WARNING] wrong segment number continuously %d", c.WrongSegments)
		}
		return false
	}
	if c.WrongSegments != 0 {
		s.logf(LevelRecover, "[WARNING] wrong segment recovered: %d", segment)
		c.WrongSegments = 0
	}
	copy(s.shelf[segment-1], raw)
	s.refreshed[segment-1] = s.cycle
	if segment != len(s.shelf) {
		return false
	}
	s.stale = s.stale[:0]
	for i, r := range s.refreshed {
		if r <= s.lastReady {
			s.stale = append(s.stale, i+1)
		}
	}
	s.lastReady = s.cycle
	if n := len(s.stale); n != 0 {
		s.stats.update(func(st *Stats) { st.StaleSegments += n })
	}
	return true
}

// Segments returns the segment buffers, in order. They must not be modified.
func (s *SegmentCache) Segments() [][]byte {
	return s.shelf
}

// Stale returns the segments of the last completed frame that were not
// refreshed since the frame before it. Never received segments are stale.
func (s *SegmentCache) Stale() []int {
	if len(s.stale) == 0 {
		return nil
	}
	return append([]int(nil), s.stale...)
}
