// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package palette holds the colormaps used to render thermal intensities.
//
// A Table is indexed by an 8 bit intensity. Tables may be shorter than 256
// entries; lookups past the end resolve to the last entry.
//
// The built-in tables are interpolated approximations of the usual rainbow,
// grayscale and ironblack maps. Exact tables can be loaded with Load.
package palette

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RGB is one colormap entry.
type RGB struct {
	R, G, B uint8
}

// Table is an ordered colormap.
type Table []RGB

// At returns the color for intensity i, clamped to the table.
func (t Table) At(i int) RGB {
	if i < 0 {
		i = 0
	}
	if i >= len(t) {
		i = len(t) - 1
	}
	return t[i]
}

// ID identifies a built-in palette. Values match the -cm flag.
type ID int

// Built-in palettes.
const (
	Rainbow   ID = 1
	Grayscale ID = 2
	IronBlack ID = 3
)

func (i ID) String() string {
	switch i {
	case Rainbow:
		return "rainbow"
	case Grayscale:
		return "grayscale"
	case IronBlack:
		return "ironblack"
	default:
		return "ID(" + strconv.Itoa(int(i)) + ")"
	}
}

// Table returns the built-in table. Unknown IDs fall back to IronBlack.
func (i ID) Table() Table {
	switch i {
	case Rainbow:
		return rainbow
	case Grayscale:
		return grayscale
	default:
		return ironBlack
	}
}

// ByName returns the built-in table with this name or number.
func ByName(name string) (Table, error) {
	if n, err := strconv.Atoi(name); err == nil {
		switch id := ID(n); id {
		case Rainbow, Grayscale, IronBlack:
			return id.Table(), nil
		}
		return nil, fmt.Errorf("palette: unknown palette %d", n)
	}
	for _, id := range []ID{Rainbow, Grayscale, IronBlack} {
		if strings.EqualFold(name, id.String()) {
			return id.Table(), nil
		}
	}
	return nil, fmt.Errorf("palette: unknown palette %q", name)
}

// Load reads a table encoded as a JSON array of [r, g, b] triplets.
func Load(r io.Reader) (Table, error) {
	var raw [][3]int
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("palette: empty table")
	}
	t := make(Table, len(raw))
	for i, c := range raw {
		for _, v := range c {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("palette: entry %d: value %d out of range", i, v)
			}
		}
		t[i] = RGB{uint8(c[0]), uint8(c[1]), uint8(c[2])}
	}
	return t, nil
}

// Private details.

var (
	grayscale = gradient(256, RGB{0, 0, 0}, RGB{255, 255, 255})
	// rainbow stops at 240 entries so the hottest values saturate on red.
	rainbow = gradient(240,
		RGB{1, 3, 74}, RGB{0, 0, 255}, RGB{0, 255, 255}, RGB{0, 255, 0},
		RGB{255, 255, 0}, RGB{255, 128, 0}, RGB{255, 0, 0})
	ironBlack = gradient(256,
		RGB{255, 255, 255}, RGB{128, 128, 128}, RGB{0, 0, 0}, RGB{32, 0, 140},
		RGB{180, 0, 160}, RGB{240, 80, 0}, RGB{255, 210, 0}, RGB{255, 255, 255})
)

// gradient linearly interpolates n entries through the stops.
func gradient(n int, stops ...RGB) Table {
	t := make(Table, n)
	last := len(stops) - 1
	for i := range t {
		pos := float64(i) * float64(last) / float64(n-1)
		k := int(pos)
		if k >= last {
			t[i] = stops[last]
			continue
		}
		f := pos - float64(k)
		a, b := stops[k], stops[k+1]
		t[i] = RGB{lerp(a.R, b.R, f), lerp(a.G, b.G, f), lerp(a.B, b.B, f)}
	}
	return t
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*f + 0.5)
}
