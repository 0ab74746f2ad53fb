// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package command

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/warthog618/nrfconsole/console"
	"github.com/warthog618/nrfconsole/nrf91"
	"github.com/warthog618/nrfconsole/tlssock"
)

// handlers implements the commands.
//
// Sockets opened by a command are held here so its Finish can close them
// regardless of which step failed.
type handlers struct {
	svc    Services
	cfg    Config
	bridge *console.Bridge

	tls TLSSocket
	at  ATSocket
}

// step creates a step that runs f with the command timeout.
func (h *handlers) step(s *console.Session, name string, f func(ctx context.Context) error) console.Step {
	return console.Step{
		Name: name,
		Run: func() error {
			ctx, cancel := context.WithTimeout(s.Context(), h.cfg.CommandTimeout)
			defer cancel()
			return f(ctx)
		},
	}
}

func (h *handlers) on(s *console.Session, args string) []console.Step {
	var g GNSSSocket
	return []console.Step{
		h.step(s, "turning GNSS antenna on", func(ctx context.Context) error {
			s.Println("Configure GNSS antenna...")
			if err := h.svc.Modem.ConfigureGNSSAntenna(ctx); err != nil {
				return err
			}
			s.Println("GNSS antenna enabled.")
			return nil
		}),
		h.step(s, "turning modem on", func(ctx context.Context) error {
			s.Print("Turning modem on...")
			if err := h.svc.Modem.On(ctx); err != nil {
				s.Println()
				return err
			}
			s.Println("Modem now on.")
			return nil
		}),
		{
			Name: "opening GNSS socket",
			Run: func() (err error) {
				s.Println("Opening socket...")
				g, err = h.svc.GNSS.Open()
				return err
			},
		},
		{
			Name: "setting fix interval",
			Run: func() error {
				s.Println("Set fix interval to 1...")
				return gpsHint(g.SetFixInterval(1))
			},
		},
		{
			Name: "setting fix retry",
			Run: func() error {
				s.Println("Set fix retry to 0...")
				return gpsHint(g.SetFixRetry(0))
			},
		},
		{
			Name: "setting NMEA mask",
			Run: func() error {
				s.Printf("Setting NMEA mask to %v\n", h.cfg.NmeaMask)
				return gpsHint(g.SetNmeaMask(h.cfg.NmeaMask))
			},
		},
		h.step(s, "starting GPS", func(ctx context.Context) error {
			s.Println("Starting gnss...")
			if err := g.Start(ctx, 0); err != nil {
				return gpsHint(err)
			}
			s.Println("GPS started OK.")
			return nil
		}),
	}
}

func gpsHint(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, "GPS may be disabled - see 'mode'")
}

func (h *handlers) mode(s *console.Session, args string) []console.Step {
	var sm nrf91.SystemMode
	valid := true
	for _, tok := range strings.Fields(args) {
		m, err := nrf91.ParseSystemMode(tok)
		if err != nil {
			s.Printf("Don't understand argument %q.\n", tok)
			s.Println(nrf91.SystemModeUsage)
			valid = false
			continue
		}
		switch {
		case m.GPS:
			s.Println("Enabling GPS.")
			sm.GPS = true
		case m.NBIoT:
			s.Println("Enabling NB-IoT.")
			sm.NBIoT = true
		case m.LTEM:
			s.Println("Enabling LTE-M.")
			sm.LTEM = true
		}
	}
	var steps []console.Step
	if valid && sm.Any() {
		steps = append(steps, h.step(s, fmt.Sprintf("running %q", sm.Command()),
			func(ctx context.Context) error {
				return h.svc.Modem.SetSystemMode(ctx, sm)
			}))
	}
	return append(steps, h.query(s, "AT%XSYSTEMMODE?"))
}

// query creates a step that issues the AT command and prints the response.
func (h *handlers) query(s *console.Session, cmd string) console.Step {
	return h.step(s, fmt.Sprintf("running %q", cmd), func(ctx context.Context) error {
		return h.svc.Modem.SendATCommand(ctx, cmd, func(line string) {
			s.Printf("> %s\n", line)
		})
	})
}

func (h *handlers) flight(s *console.Session, args string) []console.Step {
	return []console.Step{
		h.step(s, "taking modem offline", func(ctx context.Context) error {
			s.Print("Taking modem offline...")
			if err := h.svc.Modem.FlightMode(ctx); err != nil {
				s.Println()
				return err
			}
			s.Println("Modem now in flight mode.")
			return nil
		}),
	}
}

func (h *handlers) off(s *console.Session, args string) []console.Step {
	return []console.Step{
		h.step(s, "turning modem off", func(ctx context.Context) error {
			s.Print("Turning modem off...")
			if err := h.svc.Modem.Off(ctx); err != nil {
				s.Println()
				return err
			}
			s.Println("Modem now off.")
			return nil
		}),
	}
}

func (h *handlers) wait(s *console.Session, args string) []console.Step {
	return []console.Step{{
		Name: "getting registration",
		Run: func() error {
			s.Print("Waiting for signal...")
			ctx, cancel := context.WithTimeout(s.Context(), h.cfg.RegistrationTimeout)
			defer cancel()
			if err := h.svc.Modem.WaitForLTE(ctx); err != nil {
				s.Println()
				return err
			}
			s.Println("Modem now registered.")
			return nil
		},
	}}
}

func (h *handlers) stat(s *console.Session, args string) []console.Step {
	steps := make([]console.Step, 0, len(StatusCommands))
	for _, cmd := range StatusCommands {
		steps = append(steps, h.query(s, cmd))
	}
	return steps
}

func (h *handlers) get(s *console.Session, args string) []console.Step {
	s.Timer.Start()
	return []console.Step{
		{
			Name: "making socket",
			Run: func() (err error) {
				s.Println("Making socket..")
				h.tls, err = h.svc.TLS.NewSocket(tlssock.Disabled, []int{h.cfg.SecurityTag}, tlssock.TLS13)
				return err
			},
		},
		h.step(s, "connecting", func(ctx context.Context) error {
			s.Printf("Connecting to %s..\n", h.cfg.Host)
			return h.tls.Connect(ctx, h.cfg.Host, h.cfg.Port)
		}),
		{
			Name: "writing",
			Run: func() error {
				s.Println("Writing...")
				req := fmt.Sprintf("GET %s HTTP/1.1\r\n"+
					"Host: %s:%d\r\n"+
					"Connection: close\r\n"+
					"User-Agent: nrfconsole\r\n"+
					"\r\n", h.cfg.Path, h.cfg.Host, h.cfg.Port)
				_, err := h.tls.Write([]byte(req))
				return err
			},
		},
		{
			Name: "reading",
			Run: func() error {
				buf := make([]byte, h.cfg.ChunkSize)
				for {
					n, err := h.tls.RecvWait(buf)
					if err != nil {
						return err
					}
					chunk := buf[:n]
					if utf8.Valid(chunk) {
						s.Print(string(chunk))
					} else {
						s.Print(chunk)
					}
					if n < len(buf) {
						return nil
					}
				}
			},
		},
	}
}

func (h *handlers) getFinish(s *console.Session, err error) {
	if h.tls != nil {
		h.tls.Close()
		h.tls = nil
	}
	s.Printf("Got %s after %f seconds\n", result(err), s.Timer.Elapsed().Seconds())
}

// result renders the outcome of a command.
func result(err error) string {
	if err == nil {
		return "Ok"
	}
	return fmt.Sprintf("Err(%v)", err)
}

func (h *handlers) store(s *console.Session, args string) []console.Step {
	tag := h.cfg.SecurityTag
	return []console.Step{
		h.step(s, "provisioning modem", func(ctx context.Context) error {
			return h.svc.Modem.ProvisionCertificates(ctx, tag, nrf91.Credentials{CAChain: h.cfg.CAChain})
		}),
		{
			Name: "provisioning TLS store",
			Run: func() error {
				return h.svc.TLS.ProvisionCertificates(tag, tlssock.Credentials{CAChain: h.cfg.CAChain})
			},
		},
	}
}

func (h *handlers) storeFinish(s *console.Session, err error) {
	s.Printf("Got %s\n", result(err))
}

func (h *handlers) crash(s *console.Session, args string) []console.Step {
	panic("panic command was called!")
}

func (h *handlers) fix(s *console.Session, args string) []console.Step {
	var g GNSSSocket
	return []console.Step{
		{
			Name: "opening GNSS socket",
			Run: func() (err error) {
				g, err = h.svc.GNSS.Open()
				return err
			},
		},
		{
			Name: "reading fix",
			Run: func() error {
				fix, err := g.Fix()
				switch {
				case err != nil:
					return err
				case fix == nil:
					s.Println("No data available")
				default:
					s.Println(fix)
				}
				return nil
			},
		},
	}
}

func (h *handlers) goAT(s *console.Session, args string) []console.Step {
	return append([]console.Step{{
		Name: "entering AT mode",
		Run: func() error {
			s.Print("OK\r\n")
			return nil
		},
	}}, h.relay(s)...)
}

// goATFun answers the AT+CFUN? a link monitor sends on connection, then
// enters AT mode.
func (h *handlers) goATFun(s *console.Session, args string) []console.Step {
	q := h.step(s, "running \"AT+CFUN?\"", func(ctx context.Context) error {
		err := h.svc.Modem.SendATCommand(ctx, "AT+CFUN?", func(line string) {
			s.Println(line)
		})
		if err != nil {
			s.Println("ERROR")
		}
		return err
	})
	q.Quiet = true
	return append([]console.Step{q}, h.goAT(s, args)...)
}

func (h *handlers) relay(s *console.Session) []console.Step {
	return []console.Step{
		{
			Name: "opening AT socket",
			Run: func() (err error) {
				h.at, err = h.svc.AT.OpenATSocket()
				return err
			},
		},
		{
			Name: "relaying",
			Run: func() error {
				return h.bridge.Relay(s, h.at)
			},
		},
	}
}

func (h *handlers) closeAT(s *console.Session, err error) {
	if h.at != nil {
		h.at.Close()
		h.at = nil
	}
}
