// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// lepton acquires video from a FLIR Lepton and publishes the rendered frames
// in shared memory.
//
// The camera's VoSPI bus is read over SPI, or over a serial bridge, and its
// control interface over I²C. A status page is served over HTTP and the
// counters can be published over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/maruel/interrupt"
	"golang.org/x/sync/errgroup"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"

	"github.com/maruel/leptonview/lepton"
	"github.com/maruel/leptonview/lepton/bus"
	"github.com/maruel/leptonview/lepton/cci"
	"github.com/maruel/leptonview/leptontest"
	"github.com/maruel/leptonview/palette"
	"github.com/maruel/leptonview/shm"
)

// options are the command line flags.
type options struct {
	colormap    int
	variant     int
	speedMHz    int
	min         int
	max         int
	logLevel    int
	crc         bool
	paletteFile string

	spiName       string
	serialName    string
	baud          int
	serialTimeout time.Duration
	i2cName       string
	ffcAuto       bool
	fake          bool

	shmDir string
	port   int
}

func (o *options) register(f *flag.FlagSet) {
	f.IntVar(&o.colormap, "cm", int(palette.IronBlack), "colormap: 1 rainbow, 2 grayscale, 3 ironblack")
	f.IntVar(&o.variant, "tl", int(lepton.Lepton2), "Lepton type: 2 for 2.x (80x60), 3 for 3.x (160x120)")
	f.IntVar(&o.speedMHz, "ss", 20, "SPI bus speed in MHz, 10-30")
	f.IntVar(&o.min, "min", -1, "fixed scaling minimum, 0-65535; -1 for automatic")
	f.IntVar(&o.max, "max", -1, "fixed scaling maximum, 0-65535; -1 for automatic")
	f.IntVar(&o.logLevel, "d", 0, "diagnostic level, 0-255; 3 logs resets, 5 warnings, 8 recoveries, 10 errors")
	f.BoolVar(&o.crc, "crc", false, "reject packets with a bad CRC")
	f.StringVar(&o.paletteFile, "palette-file", "", "JSON colormap file, overrides -cm")
	f.StringVar(&o.spiName, "spi", "", "SPI port to use")
	f.StringVar(&o.serialName, "serial", "", "serial port bridging VoSPI; overrides -spi")
	f.IntVar(&o.baud, "baud", 921600, "serial port baud rate")
	f.DurationVar(&o.serialTimeout, "serial-timeout", time.Second, "serial read timeout, 0 to block")
	f.StringVar(&o.i2cName, "i2c", "", "I²C bus to use")
	f.BoolVar(&o.ffcAuto, "ffc-auto", false, "keep the camera's automatic FFC; by default FFC only runs on request")
	f.BoolVar(&o.fake, "fake", false, "use a fake camera instead of the hardware")
	f.StringVar(&o.shmDir, "shm", "/dev/shm", "directory for the shared memory frames; empty to disable")
	f.IntVar(&o.port, "port", 8010, "http port to listen on; 0 to disable")
}

// loopConfig converts the flags into the acquisition configuration.
func (o *options) loopConfig() (lepton.Config, error) {
	cfg := lepton.DefaultConfig()
	switch v := lepton.Variant(o.variant); v {
	case lepton.Lepton2, lepton.Lepton3:
		cfg.Variant = v
	default:
		return cfg, fmt.Errorf("-tl must be 2 or 3, got %d", o.variant)
	}
	if o.paletteFile != "" {
		f, err := os.Open(o.paletteFile)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if cfg.Palette, err = palette.Load(f); err != nil {
			return cfg, fmt.Errorf("%s: %w", o.paletteFile, err)
		}
	} else {
		switch id := palette.ID(o.colormap); id {
		case palette.Rainbow, palette.Grayscale, palette.IronBlack:
			cfg.Palette = id.Table()
		default:
			return cfg, fmt.Errorf("-cm must be 1, 2 or 3, got %d", o.colormap)
		}
	}
	if o.min > 65535 || o.max > 65535 || o.min < -1 || o.max < -1 {
		return cfg, errors.New("-min and -max must be within [0, 65535]")
	}
	if o.min != -1 {
		cfg.Window.Min = uint16(o.min)
		cfg.Window.AutoMin = false
	}
	if o.max != -1 {
		cfg.Window.Max = uint16(o.max)
		cfg.Window.AutoMax = false
	}
	if !cfg.Window.AutoMin && !cfg.Window.AutoMax && cfg.Window.Max <= cfg.Window.Min {
		return cfg, fmt.Errorf("-max (%d) must be larger than -min (%d)", o.max, o.min)
	}
	if o.logLevel < 0 || o.logLevel > 255 {
		return cfg, fmt.Errorf("-d must be within [0, 255], got %d", o.logLevel)
	}
	cfg.LogLevel = o.logLevel
	cfg.VerifyCRC = o.crc
	return cfg, nil
}

// devices opens the transport and the controller. The transport is opened by
// the acquisition loop.
func (o *options) devices(v lepton.Variant) (lepton.Transport, lepton.Controller, func(), error) {
	if o.fake {
		r := v.Bounds()
		return leptontest.Camera(r.Dx(), r.Dy()), &leptontest.Control{}, func() {}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, nil, nil, err
	}
	var t lepton.Transport
	var err error
	if o.serialName != "" {
		t, err = bus.NewSerial(o.serialName, o.baud, o.serialTimeout)
	} else {
		t, err = bus.NewSPI(o.spiName, physic.Frequency(o.speedMHz)*physic.MegaHertz)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	// The control channel is best effort; the camera streams without it.
	i2cBus, err := i2creg.Open(o.i2cName)
	if err != nil {
		log.Printf("no control channel: %s", err)
		return t, lepton.NoControl{}, func() {}, nil
	}
	ctl, err := control(i2cBus, o.ffcAuto)
	if err != nil {
		i2cBus.Close()
		log.Printf("no control channel: %s", err)
		return t, lepton.NoControl{}, func() {}, nil
	}
	return t, ctl, func() { i2cBus.Close() }, nil
}

// control connects to the camera's CCI on b. Unless ffcAuto is set, the
// camera is switched to manual FFC so it only runs on TriggerFFC.
func control(b i2c.Bus, ffcAuto bool) (lepton.Controller, error) {
	dev, err := cci.New(b)
	if err != nil {
		return nil, err
	}
	if !ffcAuto {
		if err := dev.SetFFCManual(); err != nil {
			log.Printf("failed to disable automatic FFC: %s", err)
		}
	}
	return dev, nil
}

func mainImpl() error {
	cpuprofile := flag.String("cpuprofile", "", "dump CPU profile in file")
	verbose := flag.Bool("v", false, "verbose mode")
	o := options{}
	o.register(flag.CommandLine)
	flag.Parse()
	if !*verbose && o.logLevel == 0 {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	cfg, err := o.loopConfig()
	if err != nil {
		return err
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-interrupt.Channel
		cancel()
	}()

	t, ctl, closeCtl, err := o.devices(cfg.Variant)
	if err != nil {
		return err
	}
	defer closeCtl()
	l, err := lepton.New(t, ctl, cfg)
	if err != nil {
		return err
	}

	var sink *shm.Sink
	if o.shmDir != "" {
		if sink, err = shm.Open(o.shmDir, cfg.Variant.Bounds()); err != nil {
			return err
		}
		defer sink.Close()
	}

	var s *WebServer
	if o.port != 0 {
		s = NewWebServer(l)
	}
	bridge, err := LoadBridge(l)
	if err != nil {
		return err
	}

	frames := make(chan *lepton.Frame)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(frames)
		return l.Run(ctx, frames)
	})
	eg.Go(func() error {
		return consume(frames, sink, s)
	})
	if s != nil {
		eg.Go(func() error {
			return s.Serve(ctx, o.port)
		})
	}
	if bridge != nil {
		eg.Go(func() error {
			return bridge.Run(ctx)
		})
	}
	eg.Go(func() error {
		if err := watchFile(ctx); err != nil {
			return err
		}
		if ctx.Err() == nil {
			fmt.Printf("\nBinary modified, exiting.\n")
			cancel()
		}
		return nil
	})
	eg.Go(func() error {
		printStats(ctx, l)
		return nil
	})
	err = eg.Wait()
	if sink != nil {
		fmt.Printf("%d frames written to %s\n", sink.Frames(), o.shmDir)
	}
	return err
}

// consume hands every frame to the sink and records it on the status page.
func consume(frames <-chan *lepton.Frame, sink *shm.Sink, s *WebServer) error {
	for f := range frames {
		if sink != nil {
			if err := sink.Write(f); err != nil {
				return err
			}
		}
		if s != nil {
			s.AddFrame(f)
		}
	}
	return nil
}

func printStats(ctx context.Context, l *lepton.Loop) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Print("\n")
			return
		case <-t.C:
			s := l.Stats()
			fmt.Printf("\r%d frames %d dropped %d resyncs %d reboots %d fail %d badseg", s.GoodFrames, s.DroppedFrames, s.Resyncs, s.Reboots, s.TransferFails, s.WrongSegments)
		}
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nlepton: %s.\n", err)
		os.Exit(1)
	}
}
