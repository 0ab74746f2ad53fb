// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package command provides the console commands that drive the modem.
//
// The commands consume the modem through the capability interfaces defined
// here, which NewServices binds to the nrf91, gnss and tlssock
// implementations.
package command

import (
	"context"
	"time"

	"github.com/warthog618/nrfconsole/console"
	"github.com/warthog618/nrfconsole/gnss"
	"github.com/warthog618/nrfconsole/nrf91"
	"github.com/warthog618/nrfconsole/tlssock"
)

// Modem controls the modem.
type Modem interface {
	ConfigureGNSSAntenna(ctx context.Context) error
	On(ctx context.Context) error
	Off(ctx context.Context) error
	FlightMode(ctx context.Context) error
	WaitForLTE(ctx context.Context) error
	SetSystemMode(ctx context.Context, s nrf91.SystemMode) error
	SendATCommand(ctx context.Context, cmd string, handler func(line string)) error
	ProvisionCertificates(ctx context.Context, tag int, c nrf91.Credentials) error
}

// GNSS opens GNSS sockets.
type GNSS interface {
	Open() (GNSSSocket, error)
}

// GNSSSocket configures the receiver and reads fixes.
type GNSSSocket interface {
	SetFixInterval(interval int) error
	SetFixRetry(retry int) error
	SetNmeaMask(mask gnss.NmeaMask) error
	Start(ctx context.Context, del gnss.DeleteMask) error
	Fix() (*gnss.Fix, error)
}

// TLS creates TLS sockets and stores their credentials.
type TLS interface {
	NewSocket(verify tlssock.PeerVerification, tags []int, version tlssock.Version) (TLSSocket, error)
	ProvisionCertificates(tag int, c tlssock.Credentials) error
}

// TLSSocket is a TLS client connection.
type TLSSocket interface {
	Connect(ctx context.Context, host string, port uint16) error
	Write(p []byte) (int, error)
	RecvWait(p []byte) (int, error)
	Close() error
}

// ATOpener opens AT sockets for the pass-through bridge.
type ATOpener interface {
	OpenATSocket() (ATSocket, error)
}

// ATSocket is an AT socket that can be closed.
type ATSocket interface {
	console.ATSocket
	Close() error
}

// Services are the capabilities used by the commands.
type Services struct {
	Modem Modem
	GNSS  GNSS
	TLS   TLS
	AT    ATOpener
}

// NewServices binds the capabilities to their implementations.
func NewServices(m *nrf91.Modem, g *gnss.Service, store *tlssock.Store) Services {
	return Services{
		Modem: m,
		GNSS:  gnssService{g},
		TLS:   tlsStore{store},
		AT:    atOpener{m},
	}
}

type gnssService struct {
	s *gnss.Service
}

func (g gnssService) Open() (GNSSSocket, error) {
	sock, err := g.s.Open()
	if err != nil {
		return nil, err
	}
	return sock, nil
}

type tlsStore struct {
	s *tlssock.Store
}

func (t tlsStore) NewSocket(verify tlssock.PeerVerification, tags []int, version tlssock.Version) (TLSSocket, error) {
	sock, err := t.s.NewSocket(verify, tags, version)
	if err != nil {
		return nil, err
	}
	return sock, nil
}

func (t tlsStore) ProvisionCertificates(tag int, c tlssock.Credentials) error {
	return t.s.ProvisionCertificates(tag, c)
}

type atOpener struct {
	m *nrf91.Modem
}

func (a atOpener) OpenATSocket() (ATSocket, error) {
	sock, err := a.m.OpenSocket()
	if err != nil {
		return nil, err
	}
	return sock, nil
}

// Config parameterises the commands.
type Config struct {
	// Host, Port and Path locate the resource fetched by get.
	Host string
	Port uint16
	Path string

	// SecurityTag identifies the credentials used by get and written by
	// store.
	SecurityTag int

	// CAChain is the PEM encoded CA chain written by store.
	CAChain string

	// CommandTimeout bounds each modem operation.
	CommandTimeout time.Duration

	// RegistrationTimeout bounds wait.
	RegistrationTimeout time.Duration

	// NmeaMask is the NMEA mask set by on.
	NmeaMask gnss.NmeaMask

	// ChunkSize is the size of the reads performed by get.
	ChunkSize int
}

// DefaultConfig returns the default command configuration.
func DefaultConfig() Config {
	return Config{
		Host:                "jsonplaceholder.typicode.com",
		Port:                443,
		Path:                "/todos/1",
		SecurityTag:         0,
		CommandTimeout:      10 * time.Second,
		RegistrationTimeout: 5 * time.Minute,
		NmeaMask:            gnss.DefaultNmeaMask,
		ChunkSize:           32,
	}
}

// StatusCommands are the queries issued by stat, in order.
var StatusCommands = []string{
	"AT+CFUN?",
	"AT+CEREG?",
	"AT%XSNRSQ?",
	"AT+CESQ",
	"AT%XTEMP?",
	"AT+CGCONTRDP=0",
	"AT+CCLK?",
	"AT%XMONITOR",
	"AT+CGDCONT?",
	"AT+CGPADDR",
	"AT%XCONNSTAT?",
}

// NewMenu creates the root menu.
func NewMenu(svc Services, cfg Config) *console.Menu {
	h := &handlers{svc: svc, cfg: cfg, bridge: console.NewBridge()}
	return &console.Menu{
		Label: "root",
		Items: []*console.Item{
			{Command: "on", Help: "Power on modem", Policy: console.FailFast, Steps: h.on},
			{Command: "mode", Help: "Get/set XSYSTEMMODE (NB-IOT, LTE-M, and/or GPS)", Policy: console.CollectAll, Steps: h.mode},
			{Command: "flight", Help: "Enter flight mode", Policy: console.FailFast, Steps: h.flight},
			{Command: "off", Help: "Power off modem", Policy: console.FailFast, Steps: h.off},
			{Command: "wait", Help: "Wait for signal", Policy: console.FailFast, Steps: h.wait},
			{Command: "stat", Help: "Show registration and general modem status", Policy: console.CollectAll, Steps: h.stat},
			{Command: "get", Help: "Do an HTTPS GET", Policy: console.FailFast, Steps: h.get, Finish: h.getFinish},
			{Command: "store", Help: "Write the TLS keys to the modem", Policy: console.FailFast, Steps: h.store, Finish: h.storeFinish},
			{Command: "panic", Help: "Deliberately crash", Policy: console.FailFast, Steps: h.crash},
			{Command: "fix", Help: "Get a GPS fix", Policy: console.FailFast, Steps: h.fix},
			{Command: "go_at", Help: "Enter AT over UART mode", Policy: console.FailFast, Steps: h.goAT, Finish: h.closeAT},
			{Command: "AT+CFUN?", Help: "Enter AT mode if an AT command is entered...", Policy: console.FailFast, Steps: h.goATFun, Finish: h.closeAT},
		},
	}
}
