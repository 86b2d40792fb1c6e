// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cci

import (
	"testing"
	"time"

	"periph.io/x/periph/conn/i2c/i2ctest"
)

func TestNew(t *testing.T) {
	i := i2ctest.Playback{Ops: initSequence()}
	if _, err := New(&i); err != nil {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_not_booted(t *testing.T) {
	i := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x2}},
			{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x1}}, // busy
			{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
		},
	}
	d := &Dev{sleep: func(time.Duration) {}, bootTimeout: time.Second}
	d.c.Bus = &i
	d.c.Addr = Addr
	if err := d.waitBoot(); err != nil {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_boot_timeout(t *testing.T) {
	var ops []i2ctest.IO
	for j := 0; j < 3; j++ {
		ops = append(ops, i2ctest.IO{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x0}})
	}
	i := i2ctest.Playback{Ops: ops}
	d := &Dev{sleep: func(time.Duration) {}, bootTimeout: 10 * time.Millisecond}
	d.c.Bus = &i
	d.c.Addr = Addr
	if err := d.waitBoot(); err == nil {
		t.Fatal("expected failure")
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRunFFC(t *testing.T) {
	i := i2ctest.Playback{
		Ops: append(initSequence(),
			[]i2ctest.IO{
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}}, // waitIdle
				{Addr: Addr, W: []byte{0x0, 0x6, 0x0, 0x0}},
				{Addr: Addr, W: []byte{0x0, 0x4, 0x2, 0x42}},
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}}, // waitIdle
			}...),
	}
	d := newDev(t, &i)
	if err := d.RunFFC(); err != nil {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRunFFC_fail(t *testing.T) {
	i := i2ctest.Playback{
		Ops: append(initSequence(),
			[]i2ctest.IO{
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
				{Addr: Addr, W: []byte{0x0, 0x6, 0x0, 0x0}},
				{Addr: Addr, W: []byte{0x0, 0x4, 0x2, 0x42}},
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0xFD, 0x6}}, // LEP_ERROR -3
			}...),
	}
	d := newDev(t, &i)
	err := d.RunFFC()
	if err == nil || err.Error() != "cci: error -3" {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReboot(t *testing.T) {
	// No waitIdle after the command.
	i := i2ctest.Playback{
		Ops: append(initSequence(),
			[]i2ctest.IO{
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
				{Addr: Addr, W: []byte{0x0, 0x6, 0x0, 0x0}},
				{Addr: Addr, W: []byte{0x0, 0x4, 0x48, 0x42}},
			}...),
	}
	d := newDev(t, &i)
	if err := d.Reboot(); err != nil {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStatus(t *testing.T) {
	i := i2ctest.Playback{
		Ops: append(initSequence(),
			[]i2ctest.IO{
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
				{Addr: Addr, W: []byte{0x0, 0x6, 0x0, 0x4}},
				{Addr: Addr, W: []byte{0x0, 0x4, 0x2, 0x4}},
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
				{Addr: Addr, W: []byte{0x0, 0x8}, R: []byte{0x0, 0x2, 0x0, 0x1, 0x0, 0x3, 0x0, 0x0}},
			}...),
	}
	d := newDev(t, &i)
	s, err := d.Status()
	if err != nil {
		t.Fatal(err)
	}
	if s.CameraStatus != 0x00010002 || s.CommandCount != 3 {
		t.Fatalf("%#v", s)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSetFFCManual(t *testing.T) {
	// FFCShutterMode is automatic (1), the rest is the default.
	mode := []byte{
		0x0, 0x1, 0x0, 0x0, // FFCShutterMode
		0x0, 0x0, 0x0, 0x0, // ShutterTempLockoutState
		0x0, 0x1, 0x0, 0x0, // VideoFreezeDuringFFC
		0x0, 0x0, 0x0, 0x0, // FFCDesired
		0x12, 0x34, 0x0, 0x0, // ElapsedTimeSinceLastFFC
		0x93, 0xE0, 0x0, 0x4, // DesiredFFCPeriod
		0x0, 0x0, 0x0, 0x0, // ExplicitCommandToOpen
		0x1, 0x2C, // DesiredFFCTempDelta
		0x0, 0x34, // ImminentDelay
	}
	manual := append([]byte{0x0, 0x8}, mode...)
	manual[3] = 0
	i := i2ctest.Playback{
		Ops: append(initSequence(),
			[]i2ctest.IO{
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
				{Addr: Addr, W: []byte{0x0, 0x6, 0x0, 0x10}},
				{Addr: Addr, W: []byte{0x0, 0x4, 0x2, 0x3C}},
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
				{Addr: Addr, W: []byte{0x0, 0x8}, R: mode},
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
				{Addr: Addr, W: manual},
				{Addr: Addr, W: []byte{0x0, 0x6, 0x0, 0x10}},
				{Addr: Addr, W: []byte{0x0, 0x4, 0x2, 0x3D}},
				{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}},
			}...),
	}
	d := newDev(t, &i)
	if err := d.SetFFCManual(); err != nil {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
}

//

func initSequence() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: Addr, W: []byte{0x0, 0x2}, R: []byte{0x0, 0x6}}, // waitIdle
	}
}

func newDev(t *testing.T, i *i2ctest.Playback) *Dev {
	d, err := New(i)
	if err != nil {
		t.Fatal(err)
	}
	d.sleep = func(time.Duration) {}
	return d
}
