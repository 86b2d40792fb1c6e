// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// lepton-ctl uses the camera's I²C interface to query its state and send it
// commands.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"

	"github.com/maruel/leptonview/lepton/cci"
)

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	i2cHz := flag.Int("hz", 0, "I²C bus speed")
	ffc := flag.Bool("ffc", false, "trigger a Flat Field Correction")
	ffcManual := flag.Bool("ffc-manual", false, "disable the automatic Flat Field Correction")
	reboot := flag.Bool("reboot", false, "reboot the camera")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	if *reboot && (*ffc || *ffcManual) {
		return errors.New("-reboot cannot be combined with other commands")
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	i2cBus, err := i2creg.Open(*i2cName)
	if err != nil {
		return err
	}
	defer i2cBus.Close()
	if *i2cHz != 0 {
		if err := i2cBus.SetSpeed(physic.Frequency(*i2cHz) * physic.Hertz); err != nil {
			return err
		}
	}
	dev, err := cci.New(i2cBus)
	if err != nil {
		return err
	}
	status, err := dev.Status()
	if err != nil {
		return err
	}
	fmt.Printf("Status.CameraStatus: %d\n", status.CameraStatus)
	fmt.Printf("Status.CommandCount: %d\n", status.CommandCount)
	if *ffcManual {
		if err := dev.SetFFCManual(); err != nil {
			return err
		}
		fmt.Printf("FFC:                 manual\n")
	}
	if *ffc {
		if err := dev.RunFFC(); err != nil {
			return err
		}
		fmt.Printf("FFC:                 done\n")
	}
	if *reboot {
		if err := dev.Reboot(); err != nil {
			return err
		}
		fmt.Printf("Rebooting\n")
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nlepton-ctl: %s.\n", err)
		os.Exit(1)
	}
}
