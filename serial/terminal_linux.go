// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux

package serial

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Terminal is a console on the controlling terminal.
//
// The input is placed in raw mode, so bytes are delivered as typed, with no
// local echo or line editing, and Ctrl-C arrives as 0x03 rather than raising
// SIGINT. Output processing is retained so a lone LF is rendered as CRLF.
type Terminal struct {
	in  *os.File
	out *os.File
	old *unix.Termios
}

// OpenTerminal places in into raw mode and returns a Terminal that reads from
// in and writes to out.
//
// If in is not a terminal it is used unaltered.
func OpenTerminal(in, out *os.File) (*Terminal, error) {
	t := &Terminal{in: in, out: out}
	fd := int(in.Fd())
	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		// not a tty, e.g. a pipe from a test harness
		return t, nil
	}
	raw := *old
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, errors.Wrap(err, "set raw mode")
	}
	t.old = old
	return t, nil
}

func (t *Terminal) Read(p []byte) (int, error) {
	return t.in.Read(p)
}

func (t *Terminal) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// Close restores the original terminal mode.
//
// The underlying files are not closed.
func (t *Terminal) Close() error {
	if t.old == nil {
		return nil
	}
	err := unix.IoctlSetTermios(int(t.in.Fd()), unix.TCSETS, t.old)
	t.old = nil
	return errors.Wrap(err, "restore terminal")
}
