// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package gnss provides access to the GNSS receiver of a modem supporting the
// #XGPS command set.
//
// Fixes and NMEA sentences are delivered by the modem as notifications, and
// are collected by the Service until read.
package gnss

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/nrfconsole/at"
	"github.com/warthog618/nrfconsole/info"
)

// Service collects GNSS notifications from the modem.
//
// There is one Service per modem. Sockets opened on the Service share its
// configuration and the most recent fix.
type Service struct {
	a *at.AT

	once    sync.Once
	openErr error

	mu       sync.Mutex
	started  bool
	interval int
	retry    int
	mask     NmeaMask
	fix      *Fix
	nmea     map[NmeaMask]string
}

// New creates the Service for the modem.
func New(a *at.AT) *Service {
	return &Service{
		a:        a,
		interval: 1,
		retry:    60,
		mask:     DefaultNmeaMask,
		nmea:     make(map[NmeaMask]string),
	}
}

// Open returns a Socket on the Service.
//
// The first Open registers the notification handlers with the modem.
func (s *Service) Open() (*Socket, error) {
	s.once.Do(func() {
		if err := s.a.AddIndication("#XGPS:", s.handleFix); err != nil {
			s.openErr = errors.Wrap(err, "#XGPS")
			return
		}
		if err := s.a.AddIndication("$G", s.handleNMEA); err != nil {
			s.a.CancelIndication("#XGPS:")
			s.openErr = errors.Wrap(err, "NMEA")
		}
	})
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &Socket{s: s}, nil
}

func (s *Service) handleFix(lines []string) {
	fix, err := parseFix(lines[0])
	if err != nil {
		// status notifications carry no fix
		return
	}
	s.mu.Lock()
	s.fix = fix
	s.mu.Unlock()
}

func (s *Service) handleNMEA(lines []string) {
	l := lines[0]
	if len(l) < 6 {
		return
	}
	m := sentenceMask(l[3:6])
	s.mu.Lock()
	if s.mask&m != 0 {
		s.nmea[m] = l
	}
	s.mu.Unlock()
}

// Socket is a handle to the GNSS receiver.
type Socket struct {
	s *Service
}

// SetFixInterval sets the time between fixes, in seconds.
//
// 0 requests a single fix, 1 continuous tracking, and 10 to 65535 periodic
// fixes.
func (g *Socket) SetFixInterval(interval int) error {
	if interval < 0 || (interval > 1 && interval < 10) || interval > 65535 {
		return errors.Wrapf(ErrInvalidInterval, "%d", interval)
	}
	g.s.mu.Lock()
	g.s.interval = interval
	g.s.mu.Unlock()
	return nil
}

// SetFixRetry sets the time the receiver may search for a fix, in seconds.
//
// 0 allows the receiver to search indefinitely.
func (g *Socket) SetFixRetry(retry int) error {
	if retry < 0 || retry > 65535 {
		return errors.Wrapf(ErrInvalidRetry, "%d", retry)
	}
	g.s.mu.Lock()
	g.s.retry = retry
	g.s.mu.Unlock()
	return nil
}

// SetNmeaMask selects the NMEA sentences collected from the receiver.
func (g *Socket) SetNmeaMask(mask NmeaMask) error {
	if mask&^allNmea != 0 {
		return errors.Wrapf(ErrInvalidMask, "0x%x", uint(mask))
	}
	g.s.mu.Lock()
	g.s.mask = mask
	for m := range g.s.nmea {
		if mask&m == 0 {
			delete(g.s.nmea, m)
		}
	}
	g.s.mu.Unlock()
	return nil
}

// Start starts the receiver, first deleting any of the stored assistance data
// selected by the mask.
func (g *Socket) Start(ctx context.Context, del DeleteMask) error {
	if del != 0 {
		cmd := fmt.Sprintf("AT#XGPSDEL=%d", uint(del))
		if _, err := g.s.a.Command(ctx, cmd); err != nil {
			return errors.Wrap(err, cmd)
		}
	}
	g.s.mu.Lock()
	cmd := fmt.Sprintf("AT#XGPS=1,0,%d,%d", g.s.interval, g.s.retry)
	g.s.mu.Unlock()
	if _, err := g.s.a.Command(ctx, cmd); err != nil {
		return err
	}
	g.s.mu.Lock()
	g.s.started = true
	g.s.fix = nil
	g.s.mu.Unlock()
	return nil
}

// Stop stops the receiver.
func (g *Socket) Stop(ctx context.Context) error {
	if _, err := g.s.a.Command(ctx, "AT#XGPS=0"); err != nil {
		return err
	}
	g.s.mu.Lock()
	g.s.started = false
	g.s.mu.Unlock()
	return nil
}

// Fix returns the most recent fix received since the last call.
//
// If no fix has been received it returns nil.
func (g *Socket) Fix() (*Fix, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if !g.s.started {
		return nil, ErrNotStarted
	}
	fix := g.s.fix
	g.s.fix = nil
	if fix == nil {
		return nil, nil
	}
	for _, m := range nmeaOrder {
		if l, ok := g.s.nmea[m]; ok {
			fix.NMEA = append(fix.NMEA, l)
		}
	}
	return fix, nil
}

// Fix is a position fix reported by the receiver.
type Fix struct {
	Latitude  float64
	Longitude float64
	// meters above the WGS-84 ellipsoid
	Altitude float64
	// meters
	Accuracy float64
	// meters per second
	Speed float64
	// degrees
	Heading float64
	Time    time.Time
	// latest sentences of each type selected by the NMEA mask
	NMEA []string
}

func (f *Fix) String() string {
	var b strings.Builder
	b.WriteString("Fix {\n")
	fmt.Fprintf(&b, "    latitude: %f,\n", f.Latitude)
	fmt.Fprintf(&b, "    longitude: %f,\n", f.Longitude)
	fmt.Fprintf(&b, "    altitude: %f,\n", f.Altitude)
	fmt.Fprintf(&b, "    accuracy: %f,\n", f.Accuracy)
	fmt.Fprintf(&b, "    speed: %f,\n", f.Speed)
	fmt.Fprintf(&b, "    heading: %f,\n", f.Heading)
	fmt.Fprintf(&b, "    time: %s,\n", f.Time.Format(timeLayout))
	for _, l := range f.NMEA {
		fmt.Fprintf(&b, "    nmea: %s,\n", l)
	}
	b.WriteString("}")
	return b.String()
}

const timeLayout = "2006-01-02 15:04:05"

// parseFix parses a #XGPS fix notification of the form
//
// #XGPS: <latitude>,<longitude>,<altitude>,<accuracy>,<speed>,<heading>,<datetime>
func parseFix(line string) (*Fix, error) {
	f := info.Fields(line, "#XGPS")
	if len(f) != 7 {
		return nil, ErrMalformedFix
	}
	var v [6]float64
	for i := range v {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedFix, f[i])
		}
		v[i] = x
	}
	t, err := time.Parse(timeLayout, f[6])
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFix, f[6])
	}
	return &Fix{
		Latitude:  v[0],
		Longitude: v[1],
		Altitude:  v[2],
		Accuracy:  v[3],
		Speed:     v[4],
		Heading:   v[5],
		Time:      t,
	}, nil
}

// NmeaMask selects NMEA sentence types.
type NmeaMask uint

// NMEA sentence types.
const (
	GGA NmeaMask = 1 << iota
	GLL
	GSA
	GSV
	RMC

	allNmea = GGA | GLL | GSA | GSV | RMC
)

// DefaultNmeaMask selects all supported sentences.
const DefaultNmeaMask = allNmea

var nmeaOrder = []NmeaMask{GGA, GLL, GSA, GSV, RMC}

func sentenceMask(kind string) NmeaMask {
	switch kind {
	case "GGA":
		return GGA
	case "GLL":
		return GLL
	case "GSA":
		return GSA
	case "GSV":
		return GSV
	case "RMC":
		return RMC
	}
	return 0
}

func (m NmeaMask) String() string {
	names := []string{"GGA", "GLL", "GSA", "GSV", "RMC"}
	var s []string
	for i, n := range nmeaOrder {
		if m&n != 0 {
			s = append(s, names[i])
		}
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "|")
}

// DeleteMask selects the stored assistance data to delete before a start.
//
// The zero mask deletes nothing, resulting in a hot start.
type DeleteMask uint

// Assistance data types.
const (
	Ephemerides DeleteMask = 1 << iota
	Almanac
	IonosphericCorrection
	LastGoodFix
	GPSTimeOfWeek
	GPSWeekNumber
	LeapSecond
	LocalClockFrequencyOffset
)

var (
	// ErrInvalidInterval indicates a fix interval outside the supported range.
	ErrInvalidInterval = errors.New("invalid fix interval")
	// ErrInvalidRetry indicates a fix retry outside the supported range.
	ErrInvalidRetry = errors.New("invalid fix retry")
	// ErrInvalidMask indicates an NMEA mask selecting unsupported sentences.
	ErrInvalidMask = errors.New("invalid NMEA mask")
	// ErrNotStarted indicates the receiver has not been started.
	ErrNotStarted = errors.New("GNSS not started")
	// ErrMalformedFix indicates a fix notification could not be parsed.
	ErrMalformedFix = errors.New("malformed fix")
)
