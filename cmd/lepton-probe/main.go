// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// lepton-probe acquires a few frames to check the bus and prints the
// diagnostic counters. No frame is saved.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"time"

	"github.com/maruel/interrupt"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"

	"github.com/maruel/leptonview/lepton"
	"github.com/maruel/leptonview/lepton/bus"
	"github.com/maruel/leptonview/lepton/cci"
	"github.com/maruel/leptonview/leptontest"
)

// probe runs l until n frames were received or timeout expires.
func probe(l *lepton.Loop, n int, timeout time.Duration) ([]*lepton.Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		select {
		case <-interrupt.Channel:
			cancel()
		case <-ctx.Done():
		}
	}()
	c := make(chan *lepton.Frame)
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx, c)
	}()
	var frames []*lepton.Frame
	for len(frames) < n {
		select {
		case f := <-c:
			frames = append(frames, f)
		case err := <-done:
			if err != nil {
				return frames, err
			}
			return frames, errors.New("timed out")
		}
	}
	cancel()
	return frames, <-done
}

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	spiName := flag.String("spi", "", "SPI bus to use")
	spiMHz := flag.Int("ss", 20, "SPI bus speed in MHz")
	variant := flag.Int("tl", 2, "Lepton type: 2 or 3")
	n := flag.Int("n", 9, "number of frames to acquire")
	timeout := flag.Duration("timeout", 10*time.Second, "maximum acquisition time")
	fake := flag.Bool("fake", false, "use a fake camera instead of the hardware")
	logLevel := flag.Int("d", lepton.LevelError, "diagnostic level")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	interrupt.HandleCtrlC()

	cfg := lepton.DefaultConfig()
	cfg.Variant = lepton.Variant(*variant)
	cfg.LogLevel = *logLevel
	cfg.Logger = log.New(os.Stderr, "", log.Lmicroseconds)
	var t lepton.Transport
	var ctl lepton.Controller = lepton.NoControl{}
	if *fake {
		r := cfg.Variant.Bounds()
		t = leptontest.Camera(r.Dx(), r.Dy())
	} else {
		if _, err := host.Init(); err != nil {
			return err
		}
		s, err := bus.NewSPI(*spiName, physic.Frequency(*spiMHz)*physic.MegaHertz)
		if err != nil {
			return err
		}
		t = s
		if i2cBus, err := i2creg.Open(*i2cName); err == nil {
			defer i2cBus.Close()
			if dev, err := cci.New(i2cBus); err == nil {
				ctl = dev
			} else {
				fmt.Fprintf(os.Stderr, "I²C: %s\n", err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "I²C: %s\n", err)
		}
	}
	l, err := lepton.New(t, ctl, cfg)
	if err != nil {
		return err
	}
	start := time.Now()
	frames, err := probe(l, *n, *timeout)
	d := time.Since(start)
	s := l.Stats()
	fmt.Printf("Frames:        %d in %s\n", len(frames), d.Round(time.Millisecond))
	if len(frames) != 0 {
		last := frames[len(frames)-1]
		fmt.Printf("Last window:   %s\n", last.Window)
		fmt.Printf("Last stale:    %v\n", last.Stale)
	}
	fmt.Printf("Cycles:        %d\n", s.Cycles)
	fmt.Printf("Resyncs:       %d\n", s.Resyncs)
	fmt.Printf("Reboots:       %d\n", s.Reboots)
	fmt.Printf("TransferFails: %d\n", s.TransferFails)
	fmt.Printf("CRCFails:      %d\n", s.CRCFails)
	fmt.Printf("WrongSegments: %d\n", s.WrongSegments)
	fmt.Printf("ZeroValues:    %d\n", s.ZeroValues)
	fmt.Printf("StaleSegments: %d\n", s.StaleSegments)
	return err
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nlepton-probe: %s.\n", err)
		os.Exit(1)
	}
}
