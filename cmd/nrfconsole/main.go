// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// nrfconsole is an interactive command console for an nRF91 modem.
//
// The console runs on stdio, or on a serial port, and provides commands to
// power the modem, query its status, fetch a fix from the GNSS, perform an
// HTTPS GET and relay raw AT commands to the modem.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/nrfconsole/command"
	"github.com/warthog618/nrfconsole/console"
	"github.com/warthog618/nrfconsole/gnss"
	"github.com/warthog618/nrfconsole/nrf91"
	"github.com/warthog618/nrfconsole/serial"
	"github.com/warthog618/nrfconsole/tlssock"
	"github.com/warthog618/nrfconsole/trace"
)

var version = "undefined"

func main() {
	cfgFile := flag.String("f", "", "path to YAML config file")
	flag.String("c", "", "console serial port (default stdio)")
	flag.String("d", serial.DefaultPort(), "path to modem device")
	flag.Int("b", 115200, "modem baud rate")
	flag.Duration("t", 10*time.Second, "command timeout period")
	flag.Bool("v", false, "log modem interactions")
	flag.Bool("x", false, "log modem interactions as hex dumps")
	flag.String("ca", "", "path to the PEM CA chain written by store")
	list := flag.Bool("l", false, "list serial ports and exit")
	vsn := flag.Bool("version", false, "report version and exit")
	flag.Parse()
	if *vsn {
		fmt.Printf("%s %s\n", os.Args[0], version)
		os.Exit(0)
	}
	if *list {
		ports, err := serial.Ports()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		os.Exit(0)
	}
	cfg, err := LoadConfig(
		WithDefaults(),
		WithFile(*cfgFile),
		WithEnv(),
		WithFlags(flag.CommandLine))
	if err != nil {
		log.Fatal(err)
	}
	if err := run(cfg); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	ccfg, err := cfg.Commands()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	mp, err := serial.New(serial.WithPort(cfg.ModemPort), serial.WithBaud(cfg.ModemBaud))
	if err != nil {
		return err
	}
	defer mp.Close()
	var mio io.ReadWriter = mp
	tl := log.New(os.Stderr, "", log.LstdFlags)
	switch cfg.Trace {
	case TraceText:
		mio = trace.New(mp, trace.WithLogger(tl))
	case TraceHex:
		mio = trace.New(mp, trace.WithLogger(tl), trace.WithHexDump())
	}
	modem := nrf91.New(mio)
	ictx, icancel := context.WithTimeout(ctx, cfg.CommandTimeout.Duration())
	err = modem.Init(ictx)
	icancel()
	if err != nil {
		return errors.Wrap(err, "modem init")
	}

	cp, err := openConsole(cfg)
	if err != nil {
		return err
	}
	defer cp.Close()
	ch := console.NewChannel()
	ch.Attach(cp)
	s := console.NewSession(ctx, ch)

	svc := command.NewServices(modem, gnss.New(modem.AT), tlssock.NewStore())
	menu := command.NewMenu(svc, ccfg)
	if err := menu.Validate(); err != nil {
		return err
	}
	s.Printf("nrfconsole %s\n", version)
	s.Printf("Modem firmware %s\n", modem.Revision())
	r := console.NewRunner(menu, s, console.WithBufferSize(cfg.LineSize))

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	select {
	case err = <-done:
	case <-modem.Closed():
		err = errors.New("modem closed")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openConsole opens the console port, or the controlling terminal if no
// port is configured.
func openConsole(cfg *Config) (io.ReadWriteCloser, error) {
	if cfg.ConsolePort == "" {
		return serial.OpenTerminal(os.Stdin, os.Stdout)
	}
	return serial.New(serial.WithPort(cfg.ConsolePort), serial.WithBaud(cfg.ConsoleBaud))
}
