// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cci drives the FLIR Lepton Command and Control Interface over i²c.
//
// The CCI is a register file of big endian 16 bits words. A command is sent
// by writing the data words and their count, then the command ID; the camera
// raises its busy bit until the command completes.
//
// Lepton™ Software Interface Description Document (IDD):
//   http://cvs.flir.com/lepton-idd
//   p. 36-37 Ping and Status, implement first to ensure i²c works.
package cci

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maruel/leptonview/lepton/internal"

	"periph.io/x/periph/conn/i2c"
)

// Addr is the camera's fixed i²c address.
const Addr = 0x2A

// Command to be sent over i²c.
type Command uint16

// Commands used by this package. The low 2 bits are the operation type and
// are set by get, set and run.
const (
	SysStatus              Command = 0x0204 // 4   GET
	SysFFCMode             Command = 0x023C // 16  GET/SET
	SysFFCRunNormalization Command = 0x0240 // 0   RUN
	OemReboot              Command = 0x4840 // 0   RUN
)

// RegisterAddress is a valid register that can be read or written to.
type RegisterAddress uint16

// Registers used by this package.
const (
	RegPower      RegisterAddress = 0
	RegStatus     RegisterAddress = 2
	RegCommandID  RegisterAddress = 4
	RegDataLength RegisterAddress = 6
	RegData0      RegisterAddress = 8
)

// RegStatus bitmask.
const (
	StatusBusyBit       = 0x1
	StatusBootModeBit   = 0x2
	StatusBootStatusBit = 0x4
	StatusErrorMask     = 0xFF00
)

// Status is the camera status.
type Status struct {
	CameraStatus uint32 // 0 means ready.
	CommandCount uint16 // Commands received since boot.
}

// Dev is a handle to the camera's CCI.
//
// It implements lepton.Controller. Commands are serialized so it is safe to
// use concurrently.
type Dev struct {
	mu    sync.Mutex
	c     i2c.Dev
	sleep func(time.Duration)
	// bootTimeout is how long New waits for the camera to report it is
	// booted.
	bootTimeout time.Duration
}

// New returns a handle to the camera on bus b. It waits for the camera to be
// booted.
func New(b i2c.Bus) (*Dev, error) {
	d := &Dev{c: i2c.Dev{Bus: b, Addr: Addr}, sleep: time.Sleep, bootTimeout: 5 * time.Second}
	if err := d.waitBoot(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("Lepton(%s)", d.c.String())
}

// RunFFC triggers a Flat Field Correction.
func (d *Dev) RunFFC() error {
	return d.run(SysFFCRunNormalization, true)
}

// Reboot reboots the camera module.
//
// The camera doesn't answer while rebooting so the command completion is not
// awaited.
func (d *Dev) Reboot() error {
	return d.run(OemReboot, false)
}

// Status returns the camera status.
func (d *Dev) Status() (*Status, error) {
	s := internal.Status{}
	if err := d.get(SysStatus, &s); err != nil {
		return nil, err
	}
	return &Status{CameraStatus: s.CameraStatus, CommandCount: s.CommandCount}, nil
}

// SetFFCManual disables the automatic Flat Field Correction; it then only
// happens on RunFFC.
func (d *Dev) SetFFCManual() error {
	m := internal.FFCMode{}
	if err := d.get(SysFFCMode, &m); err != nil {
		return err
	}
	m.FFCShutterMode = internal.FFCShutterModeManual
	return d.set(SysFFCMode, &m)
}

// Private details.

func (d *Dev) waitBoot() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	const booted = StatusBootStatusBit | StatusBootModeBit
	for waited := time.Duration(0); ; waited += 5 * time.Millisecond {
		status, err := d.waitIdle()
		if err != nil {
			return err
		}
		if status&booted == booted {
			return nil
		}
		if waited >= d.bootTimeout {
			return fmt.Errorf("cci: camera not booted: 0x%04x", status)
		}
		d.sleep(5 * time.Millisecond)
	}
}

func (d *Dev) get(cmd Command, data interface{}) error {
	nbWords := binary.Size(data) / 2
	if nbWords > 16 {
		return errors.New("cci: buffer too large")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.writeRegister(RegDataLength, uint16(nbWords)); err != nil {
		return err
	}
	if err := d.writeRegister(RegCommandID, uint16(cmd)); err != nil {
		return err
	}
	if err := d.waitResult(); err != nil {
		return err
	}
	b := make([]byte, nbWords*2)
	if err := d.c.Tx(putUint16(uint16(RegData0)), b); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), internal.Big16, data)
}

func (d *Dev) set(cmd Command, data interface{}) error {
	buf := bytes.Buffer{}
	if err := binary.Write(&buf, internal.Big16, data); err != nil {
		return err
	}
	nbWords := buf.Len() / 2
	if nbWords > 16 {
		return errors.New("cci: buffer too large")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.c.Tx(append(putUint16(uint16(RegData0)), buf.Bytes()...), nil); err != nil {
		return err
	}
	if err := d.writeRegister(RegDataLength, uint16(nbWords)); err != nil {
		return err
	}
	if err := d.writeRegister(RegCommandID, uint16(cmd)|1); err != nil {
		return err
	}
	return d.waitResult()
}

func (d *Dev) run(cmd Command, wait bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.writeRegister(RegDataLength, 0); err != nil {
		return err
	}
	if err := d.writeRegister(RegCommandID, uint16(cmd)|2); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return d.waitResult()
}

// waitResult waits for the current command and decodes its error code.
func (d *Dev) waitResult() error {
	status, err := d.waitIdle()
	if err != nil {
		return err
	}
	if status&StatusErrorMask != 0 {
		return fmt.Errorf("cci: error %d", int8(status>>8))
	}
	return nil
}

// waitIdle waits for camera to be ready.
func (d *Dev) waitIdle() (uint16, error) {
	for {
		value, err := d.readRegister(RegStatus)
		if err != nil || value&StatusBusyBit == 0 {
			return value, err
		}
		log.Printf("cci.waitIdle(): device busy %x", value)
		d.sleep(5 * time.Millisecond)
	}
}

func (d *Dev) readRegister(addr RegisterAddress) (uint16, error) {
	b := []byte{0, 0}
	err := d.c.Tx(putUint16(uint16(addr)), b)
	return binary.BigEndian.Uint16(b), err
}

func (d *Dev) writeRegister(addr RegisterAddress, v uint16) error {
	return d.c.Tx(append(putUint16(uint16(addr)), putUint16(v)...), nil)
}

// putUint16 encodes as big endian.
func putUint16(v uint16) []byte {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, v)
	return p
}
