// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package shm publishes frames into memory mapped files so that other
// processes can display them without a network round trip.
//
// Two files are written in the directory, usually /dev/shm:
//
//   lepton_frame: the colorized frame as packed RGB888, row major.
//   lepton_raw:   the raw samples as little endian uint16, row major.
//
// The files are overwritten in place on every frame; a reader may observe a
// frame partially written over the previous one.
package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/maruel/leptonview/lepton"
)

// File names in the directory.
const (
	FrameFile = "lepton_frame"
	RawFile   = "lepton_raw"
)

// Sink writes frames of a fixed size into the mapped files.
type Sink struct {
	rect   image.Rectangle
	files  [2]*os.File
	frame  mmap.MMap
	raw    mmap.MMap
	frames int
}

// Open creates or truncates the files in dir for frames of size r.
func Open(dir string, r image.Rectangle) (*Sink, error) {
	if r.Empty() {
		return nil, errors.New("shm: empty frame size")
	}
	s := &Sink{rect: r}
	var err error
	n := r.Dx() * r.Dy()
	if s.files[0], s.frame, err = mapFile(filepath.Join(dir, FrameFile), n*3); err != nil {
		return nil, err
	}
	if s.files[1], s.raw, err = mapFile(filepath.Join(dir, RawFile), n*2); err != nil {
		s.frame.Unmap()
		s.files[0].Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) String() string {
	return fmt.Sprintf("shm(%s, %s)", filepath.Dir(s.files[0].Name()), s.rect.Size())
}

// Write copies f into the files.
func (s *Sink) Write(f *lepton.Frame) error {
	if s.frame == nil {
		return errors.New("shm: closed")
	}
	if f.Rect.Size() != s.rect.Size() || f.Raw.Rect.Size() != s.rect.Size() {
		return fmt.Errorf("shm: frame size %s, expected %s", f.Rect.Size(), s.rect.Size())
	}
	w := s.rect.Dx()
	for y := 0; y < s.rect.Dy(); y++ {
		src := f.Pix[y*f.Stride:]
		dst := s.frame[y*w*3:]
		for x := 0; x < w; x++ {
			copy(dst[3*x:3*x+3], src[4*x:4*x+3])
		}
		raw := f.Raw.Pix[y*f.Raw.Stride:]
		dstRaw := s.raw[y*w*2:]
		for x := 0; x < w; x++ {
			binary.LittleEndian.PutUint16(dstRaw[2*x:], binary.BigEndian.Uint16(raw[2*x:]))
		}
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written.
func (s *Sink) Frames() int {
	return s.frames
}

// Close flushes and unmaps the files. The files are left in place.
func (s *Sink) Close() error {
	if s.frame == nil {
		return nil
	}
	var errs []error
	for i, m := range []mmap.MMap{s.frame, s.raw} {
		if err := m.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush error: %w", err))
		}
		if err := m.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmap error: %w", err))
		}
		if err := s.files[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.frame = nil
	s.raw = nil
	return errors.Join(errs...)
}

func mapFile(path string, size int) (*os.File, mmap.MMap, error) {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, err
	}
	if err := fd.Truncate(int64(size)); err != nil {
		fd.Close()
		return nil, nil, fmt.Errorf("truncate error: %w", err)
	}
	m, err := mmap.Map(fd, mmap.RDWR, 0)
	if err != nil {
		fd.Close()
		return nil, nil, fmt.Errorf("mmap error: %w", err)
	}
	return fd, m, nil
}
