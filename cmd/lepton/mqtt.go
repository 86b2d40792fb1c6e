// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Bridge publishes the acquisition counters over MQTT and accepts calibration
// commands.
//
// Counters are published as JSON on <Topic>/stats; any message on <Topic>/ffc
// triggers a Flat Field Correction.
type Bridge struct {
	config bridgeConfig
	cam    camera
	client mqtt.Client
	// backoff is the initial delay between connection attempts.
	backoff time.Duration
}

type bridgeConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string
	Period   string // Publication period, e.g. 10s.
}

func (b *bridgeConfig) isValid() bool {
	return b.Broker != "" && b.Topic != ""
}

func (b *bridgeConfig) period() time.Duration {
	if d, err := time.ParseDuration(b.Period); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// LoadBridge loads ~/.config/lepton/lepton.json or create one if none
// exists. It returns nil if no broker is configured.
func LoadBridge(cam camera) (*Bridge, error) {
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}
	return loadBridge(filepath.Join(usr.HomeDir, ".config", "lepton", "lepton.json"), cam)
}

func loadBridge(configPath string, cam camera) (*Bridge, error) {
	b := &Bridge{cam: cam}
	var srcData []byte
	if f, err := os.Open(configPath); err == nil {
		srcData, err = ioutil.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(srcData, &b.config); err != nil {
			log.Printf("%s is invalid json: %s", configPath, err)
		}
	}

	// Normalizes the config file.
	data, err := json.MarshalIndent(&b.config, "", "  ")
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	if !bytes.Equal(srcData, data) {
		if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
			log.Printf("failed to create %s: %s", filepath.Dir(configPath), err)
		} else if err := ioutil.WriteFile(configPath, data, 0600); err != nil {
			log.Printf("failed to write %s: %s", configPath, err)
		}
	}
	if !b.config.isValid() {
		return nil, nil
	}
	if b.config.ClientID == "" {
		b.config.ClientID = "lepton"
	}
	fmt.Printf("Publishing to %s as %s\n", b.config.Broker, b.config.Topic)
	return b, nil
}

// Run connects to the broker and publishes until ctx is done.
//
// The broker being unreachable is not an error: the connection is retried
// with an exponential backoff and the subscription is renewed on every
// connection.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().AddBroker(b.config.Broker).SetClientID(b.config.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(b.onConnect)
	b.client = mqtt.NewClient(opts)
	delay := b.backoff
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for {
		token := b.client.Connect()
		if token.Wait() && token.Error() == nil {
			break
		}
		log.Printf("mqtt: %s; retrying in %s", token.Error(), delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
	defer b.client.Disconnect(250)
	t := time.NewTicker(b.config.period())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := b.publish(); err != nil {
				log.Printf("mqtt: %s", err)
			}
		}
	}
}

const maxBackoff = time.Minute

func (b *Bridge) onConnect(c mqtt.Client) {
	if token := c.Subscribe(b.config.Topic+"/ffc", 1, b.onFFC); token.Wait() && token.Error() != nil {
		log.Printf("mqtt: %s", token.Error())
	}
}

func (b *Bridge) publish() error {
	msg, err := json.Marshal(b.cam.Stats())
	if err != nil {
		return err
	}
	token := b.client.Publish(b.config.Topic+"/stats", 0, false, msg)
	token.Wait()
	return token.Error()
}

func (b *Bridge) onFFC(c mqtt.Client, msg mqtt.Message) {
	log.Printf("mqtt: FFC requested on %s", msg.Topic())
	if err := b.cam.TriggerFFC(); err != nil {
		log.Printf("mqtt: FFC failed: %s", err)
	}
}
