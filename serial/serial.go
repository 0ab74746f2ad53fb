// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package serial provides the serial ports used by the console, both the
// modem AT port and, optionally, the console UART itself.
package serial

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// Config is the configuration used to open a port.
type Config struct {
	port        string
	baud        int
	readTimeout time.Duration
}

// Option modifies the Config used to open a port.
type Option func(*Config)

// WithPort sets the path to the serial device.
func WithPort(port string) Option {
	return func(c *Config) {
		c.port = port
	}
}

// WithBaud sets the baud rate of the port.
func WithBaud(baud int) Option {
	return func(c *Config) {
		c.baud = baud
	}
}

// WithReadTimeout sets the maximum time a Read will wait for data.
//
// A zero timeout, the default, blocks until at least one byte is available.
// The modem port must be left blocking as the AT driver treats a zero length
// read as a stalled port.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.readTimeout = d
	}
}

// New opens the serial port described by the options.
//
// Unspecified options take the platform defaults.
func New(options ...Option) (*serial.Port, error) {
	cfg := defaultConfig
	for _, option := range options {
		option(&cfg)
	}
	config := &serial.Config{
		Name:        cfg.port,
		Baud:        cfg.baud,
		ReadTimeout: cfg.readTimeout,
	}
	p, err := serial.OpenPort(config)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.port)
	}
	return p, nil
}

// DefaultPort returns the device used when no port is specified.
func DefaultPort() string {
	return defaultConfig.port
}

// Ports returns the names of the serial ports present on the system.
func Ports() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list ports")
	}
	return ports, nil
}
