// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/nrfconsole/command"
	"github.com/warthog618/nrfconsole/serial"
	"gopkg.in/yaml.v3"
)

// Trace modes for the modem port.
const (
	TraceOff  = ""
	TraceText = "text"
	TraceHex  = "hex"
)

// Config is the configuration of the console.
type Config struct {
	// ConsolePort is the serial device hosting the console.
	// If empty the console runs on stdio.
	ConsolePort string `yaml:"console_port"`
	// ConsoleBaud is the baud rate of the ConsolePort.
	ConsoleBaud int `yaml:"console_baud"`
	// LineSize is the maximum length of a command line.
	LineSize int `yaml:"line_size"`

	// ModemPort is the serial device connected to the modem AT interface.
	ModemPort string `yaml:"modem_port"`
	// ModemBaud is the baud rate of the ModemPort.
	ModemBaud int `yaml:"modem_baud"`
	// Trace selects logging of modem traffic - "", "text" or "hex".
	Trace string `yaml:"trace"`

	CommandTimeout      Duration `yaml:"command_timeout"`
	RegistrationTimeout Duration `yaml:"registration_timeout"`

	// Host, Port and Path locate the resource fetched by get.
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
	Path string `yaml:"path"`

	SecurityTag int `yaml:"security_tag"`
	// CAChainFile is the PEM file written to the modem by store.
	CAChainFile string `yaml:"ca_chain_file"`
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config) error

// LoadConfig creates a config by applying the options in order.
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithDefaults applies the default configuration.
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		cc := command.DefaultConfig()
		c.ConsoleBaud = 115200
		c.LineSize = 64
		c.ModemPort = serial.DefaultPort()
		c.ModemBaud = 115200
		c.CommandTimeout = Duration(cc.CommandTimeout)
		c.RegistrationTimeout = Duration(cc.RegistrationTimeout)
		c.Host = cc.Host
		c.Port = cc.Port
		c.Path = cc.Path
		c.SecurityTag = cc.SecurityTag
		return nil
	}
}

// WithFile overlays the YAML config file at path.
//
// An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return errors.Wrapf(err, "parse config %s", path)
		}
		return nil
	}
}

// WithEnv overlays the NRFCONSOLE_* environment variables.
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if port := os.Getenv("NRFCONSOLE_CONSOLE_PORT"); port != "" {
			c.ConsolePort = port
		}
		if port := os.Getenv("NRFCONSOLE_MODEM_PORT"); port != "" {
			c.ModemPort = port
		}
		if baud := os.Getenv("NRFCONSOLE_MODEM_BAUD"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return errors.Wrap(err, "NRFCONSOLE_MODEM_BAUD")
			}
			c.ModemBaud = b
		}
		if trace := os.Getenv("NRFCONSOLE_TRACE"); trace != "" {
			c.Trace = trace
		}
		if ca := os.Getenv("NRFCONSOLE_CA_CHAIN_FILE"); ca != "" {
			c.CAChainFile = ca
		}
		return nil
	}
}

// WithFlags overlays the flags explicitly set on the command line.
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) (err error) {
		fSet.Visit(func(f *flag.Flag) {
			if err != nil {
				return
			}
			v := f.Value.String()
			switch f.Name {
			case "c":
				c.ConsolePort = v
			case "d":
				c.ModemPort = v
			case "b":
				c.ModemBaud, err = strconv.Atoi(v)
			case "t":
				var d time.Duration
				d, err = time.ParseDuration(v)
				c.CommandTimeout = Duration(d)
			case "v":
				if v == "true" {
					c.Trace = TraceText
				}
			case "x":
				if v == "true" {
					c.Trace = TraceHex
				}
			case "ca":
				c.CAChainFile = v
			}
			err = errors.Wrapf(err, "flag -%s", f.Name)
		})
		return err
	}
}

func (c *Config) validate() error {
	switch {
	case c.ModemPort == "":
		return errors.New("no modem port")
	case c.ModemBaud <= 0:
		return errors.Errorf("invalid modem baud %d", c.ModemBaud)
	case c.ConsolePort != "" && c.ConsoleBaud <= 0:
		return errors.Errorf("invalid console baud %d", c.ConsoleBaud)
	case c.LineSize <= 0:
		return errors.Errorf("invalid line size %d", c.LineSize)
	case c.CommandTimeout <= 0:
		return errors.New("command timeout must be positive")
	case c.RegistrationTimeout <= 0:
		return errors.New("registration timeout must be positive")
	}
	switch c.Trace {
	case TraceOff, TraceText, TraceHex:
	default:
		return errors.Errorf("unknown trace mode %q", c.Trace)
	}
	return nil
}

// Commands returns the configuration of the console commands.
//
// The CA chain, if any, is read from the CAChainFile.
func (c *Config) Commands() (command.Config, error) {
	cc := command.DefaultConfig()
	cc.Host = c.Host
	cc.Port = c.Port
	cc.Path = c.Path
	cc.SecurityTag = c.SecurityTag
	cc.CommandTimeout = c.CommandTimeout.Duration()
	cc.RegistrationTimeout = c.RegistrationTimeout.Duration()
	if c.CAChainFile != "" {
		pem, err := os.ReadFile(c.CAChainFile)
		if err != nil {
			return cc, errors.Wrap(err, "read CA chain")
		}
		cc.CAChain = string(pem)
	}
	return cc, nil
}

// Duration is a time.Duration that reads from YAML as a string such as "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
