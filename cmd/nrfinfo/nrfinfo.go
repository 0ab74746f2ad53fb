// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// nrfinfo collects and displays the status of an nRF91 modem.
//
// It issues the same queries as the console stat command, without the
// console, which is useful when debugging a modem from a script.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/warthog618/nrfconsole/command"
	"github.com/warthog618/nrfconsole/nrf91"
	"github.com/warthog618/nrfconsole/serial"
	"github.com/warthog618/nrfconsole/trace"
)

var version = "undefined"

func main() {
	dev := flag.String("d", serial.DefaultPort(), "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	timeout := flag.Duration("t", 400*time.Millisecond, "command timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	vsn := flag.Bool("version", false, "report version and exit")
	flag.Parse()
	if *vsn {
		fmt.Printf("%s %s\n", os.Args[0], version)
		os.Exit(0)
	}
	m, err := serial.New(serial.WithPort(*dev), serial.WithBaud(*baud))
	if err != nil {
		log.Println(err)
		return
	}
	defer m.Close()
	var mio io.ReadWriter = m
	if *verbose {
		mio = trace.New(m)
	}
	modem := nrf91.New(mio)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err = modem.Init(ctx)
	cancel()
	if err != nil {
		log.Println(err)
		return
	}
	fmt.Printf("firmware %s\n", modem.Revision())
	for _, cmd := range command.StatusCommands {
		fmt.Println(cmd)
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		err := modem.SendATCommand(ctx, cmd, func(l string) {
			fmt.Printf(" %s\n", l)
		})
		cancel()
		if err != nil {
			fmt.Printf(" %s\n", err)
		}
	}
}
