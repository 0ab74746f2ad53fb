// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build !linux

package serial

import "os"

// Terminal is a console on the controlling terminal.
//
// Raw mode is only supported on Linux. Elsewhere input is line buffered by
// the terminal, and Ctrl-C is handled by the terminal rather than delivered.
type Terminal struct {
	in  *os.File
	out *os.File
}

// OpenTerminal returns a Terminal that reads from in and writes to out.
func OpenTerminal(in, out *os.File) (*Terminal, error) {
	return &Terminal{in: in, out: out}, nil
}

func (t *Terminal) Read(p []byte) (int, error) {
	return t.in.Read(p)
}

func (t *Terminal) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// Close is a nop.
func (t *Terminal) Close() error {
	return nil
}
