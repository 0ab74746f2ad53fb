// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package nrf91 decorates the AT modem with nRF91 specific functionality.
package nrf91

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/nrfconsole/at"
	"github.com/warthog618/nrfconsole/info"
)

// Modem is an nRF91 modem.
type Modem struct {
	*at.AT
	pollPeriod time.Duration
	revision   string
}

// Option modifies a Modem created by New.
type Option func(*Modem)

// WithPollPeriod sets the period between registration polls in WaitForLTE.
//
// The default is 1 second.
func WithPollPeriod(d time.Duration) Option {
	return func(m *Modem) {
		m.pollPeriod = d
	}
}

// New creates a new nRF91 modem.
func New(modem io.ReadWriter, options ...Option) *Modem {
	m := &Modem{AT: at.New(modem), pollPeriod: time.Second}
	for _, option := range options {
		option(m)
	}
	return m
}

// Init initialises the modem and reads the firmware revision, which also
// confirms the modem is in sync.
func (m *Modem) Init(ctx context.Context) error {
	if err := m.AT.Init(ctx); err != nil {
		return err
	}
	i, err := m.Command(ctx, "AT+CGMR")
	if err != nil {
		return err
	}
	if len(i) == 0 {
		return errors.Wrap(ErrMalformedResponse, "AT+CGMR")
	}
	m.revision = i[0]
	return nil
}

// Revision returns the modem firmware revision read by Init.
func (m *Modem) Revision() string {
	return m.revision
}

// ConfigureGNSSAntenna configures the GPIOs and coexistence filter for the
// GNSS antenna on the nRF9160 DK.
func (m *Modem) ConfigureGNSSAntenna(ctx context.Context) error {
	return m.commands(ctx,
		"AT%XMAGPIO=1,0,0,1,1,1574,1577",
		"AT%XCOEX0=1,1,1570,1580",
	)
}

// On sets the modem to full functionality.
func (m *Modem) On(ctx context.Context) error {
	return m.SetFunctionalMode(ctx, FullFunctionality)
}

// Off powers the modem down.
func (m *Modem) Off(ctx context.Context) error {
	return m.SetFunctionalMode(ctx, PowerOff)
}

// FlightMode disables both transmit and receive RF circuits.
func (m *Modem) FlightMode(ctx context.Context) error {
	return m.SetFunctionalMode(ctx, FlightMode)
}

// FunctionalMode is a +CFUN mode.
type FunctionalMode int

const (
	// PowerOff powers down the modem, storing its NVM.
	PowerOff FunctionalMode = 0
	// FullFunctionality enables LTE and GNSS.
	FullFunctionality FunctionalMode = 1
	// FlightMode disables the radio.
	FlightMode FunctionalMode = 4
)

// SetFunctionalMode sets the +CFUN mode.
func (m *Modem) SetFunctionalMode(ctx context.Context, mode FunctionalMode) error {
	_, err := m.Command(ctx, fmt.Sprintf("AT+CFUN=%d", mode))
	return err
}

// RegistrationStatus returns the EPS network registration status reported by
// +CEREG.
func (m *Modem) RegistrationStatus(ctx context.Context) (int, error) {
	i, err := m.Command(ctx, "AT+CEREG?")
	if err != nil {
		return 0, err
	}
	for _, l := range i {
		if !info.HasPrefix(l, "+CEREG") {
			continue
		}
		f := info.Fields(l, "+CEREG")
		if len(f) < 2 {
			break
		}
		stat, err := strconv.Atoi(f[1])
		if err != nil {
			break
		}
		return stat, nil
	}
	return 0, ErrMalformedResponse
}

// Registered returns true if the +CEREG stat indicates registration on the
// home network or roaming.
func Registered(stat int) bool {
	return stat == 1 || stat == 5
}

// WaitForLTE waits until the modem registers with an LTE network.
//
// The registration status is polled until the modem is registered or the
// ctx is done, in which case the ctx error is returned.
func (m *Modem) WaitForLTE(ctx context.Context) error {
	t := time.NewTicker(m.pollPeriod)
	defer t.Stop()
	for {
		stat, err := m.RegistrationStatus(ctx)
		switch {
		case err == context.DeadlineExceeded || err == context.Canceled:
			return err
		case err != nil:
			return errors.Wrap(err, "registration status")
		case Registered(stat):
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.Closed():
			return at.ErrClosed
		case <-t.C:
		}
	}
}

// SendATCommand issues the AT command line and passes each line of the
// response info to the handler.
func (m *Modem) SendATCommand(ctx context.Context, cmd string, handler func(line string)) error {
	i, err := m.Command(ctx, cmd)
	for _, l := range i {
		handler(l)
	}
	return err
}

// SystemMode selects the radio systems enabled by %XSYSTEMMODE.
type SystemMode struct {
	LTEM  bool
	NBIoT bool
	GPS   bool
}

// Any returns true if any system is selected.
func (s SystemMode) Any() bool {
	return s.LTEM || s.NBIoT || s.GPS
}

// Command returns the AT command line that sets the system mode.
func (s SystemMode) Command() string {
	return fmt.Sprintf("AT%%XSYSTEMMODE=%d,%d,%d,0", b2i(s.LTEM), b2i(s.NBIoT), b2i(s.GPS))
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SystemModeUsage describes the tokens accepted by ParseSystemMode.
const SystemModeUsage = "Try 'nbiot', 'ltem' and/or 'gps'"

// ParseSystemMode parses whitespace separated system names, in any order
// and any case, into a SystemMode.
//
// Unknown names return ErrUnknownSystem, along with the systems parsed
// from the recognised names.
func ParseSystemMode(args string) (SystemMode, error) {
	var s SystemMode
	var err error
	for _, tok := range strings.Fields(args) {
		switch strings.ToLower(tok) {
		case "gps":
			s.GPS = true
		case "nbiot", "nb-iot":
			s.NBIoT = true
		case "ltem", "lte-m":
			s.LTEM = true
		default:
			if err == nil {
				err = errors.Wrapf(ErrUnknownSystem, "%q", tok)
			}
		}
	}
	return s, err
}

// SetSystemMode sets the radio systems enabled.
func (m *Modem) SetSystemMode(ctx context.Context, s SystemMode) error {
	_, err := m.Command(ctx, s.Command())
	return err
}

// Credentials are the TLS credentials stored against a security tag.
//
// Empty fields are not provisioned.
type Credentials struct {
	CAChain    string
	ClientCert string
	PrivateKey string
}

// ProvisionCertificates writes the credentials into the modem against the
// security tag.
//
// The modem must be offline (powered off or in flight mode) for the write
// to succeed.
func (m *Modem) ProvisionCertificates(ctx context.Context, tag int, c Credentials) error {
	if c.CAChain == "" && c.ClientCert == "" && c.PrivateKey == "" {
		return ErrNoCredentials
	}
	creds := []struct {
		ctype int
		pem   string
	}{
		{0, c.CAChain},
		{1, c.ClientCert},
		{2, c.PrivateKey},
	}
	for _, cred := range creds {
		if cred.pem == "" {
			continue
		}
		cmd := fmt.Sprintf("AT%%CMNG=0,%d,%d,\"%s\"", tag, cred.ctype, cred.pem)
		if _, err := m.Command(ctx, cmd); err != nil {
			return errors.Wrapf(err, "credential type %d", cred.ctype)
		}
	}
	return nil
}

func (m *Modem) commands(ctx context.Context, cmds ...string) error {
	for _, cmd := range cmds {
		if _, err := m.Command(ctx, cmd); err != nil {
			return errors.Wrap(err, cmd)
		}
	}
	return nil
}

var (
	// ErrMalformedResponse indicates the modem returned a badly formed
	// response.
	ErrMalformedResponse = errors.New("modem returned malformed response")
	// ErrUnknownSystem indicates an unrecognised system mode name.
	ErrUnknownSystem = errors.New("unknown system")
	// ErrNoCredentials indicates there were no credentials to provision.
	ErrNoCredentials = errors.New("no credentials")
)
