// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package console

import (
	"time"

	"github.com/pkg/errors"
)

// ATSocket is the modem side of the AT pass-through bridge.
type ATSocket interface {
	// Write sends a CRLF terminated command line to the modem.
	Write(p []byte) (int, error)

	// Recv copies any available modem output into p without waiting.
	//
	// The data is NUL terminated, and the returned length includes the NUL.
	// If no data is available Recv returns false.
	Recv(p []byte) (int, bool, error)
}

// Bridge relays bytes between the console and an AT socket, so the user can
// converse with the modem directly.
//
// Console bytes are echoed and accumulated into a line, which is sent to the
// modem when the user enters CR or LF. Everything the modem returns is
// written to the console. The bridge exits when the user enters Ctrl-C,
// discarding any partial line.
type Bridge struct {
	// PollTimeout is the maximum time to wait for a console byte in each
	// cycle, and so the maximum latency of modem output.
	PollTimeout time.Duration

	// LineSize is the capacity of the pending line. Bytes beyond that
	// are dropped.
	LineSize int

	// RecvSize is the size of the buffer used to read from the AT socket.
	RecvSize int
}

// NewBridge creates a Bridge with the default timing and buffer sizes.
func NewBridge() *Bridge {
	return &Bridge{
		PollTimeout: 100 * time.Millisecond,
		LineSize:    256,
		RecvSize:    128,
	}
}

// Relay runs the bridge until the user cancels it, the session context is
// done, or an error occurs.
//
// An LF completing a CRLF whose CR ended the line that entered the bridge
// is discarded. Relay does not close the socket.
func (b *Bridge) Relay(s *Session, sock ATSocket) error {
	ch := s.Channel()
	line := make([]byte, 0, b.LineSize+2)
	rx := make([]byte, b.RecvSize)
	for {
		if err := s.Context().Err(); err != nil {
			return err
		}
		c, err := ch.ReadByteTimeout(b.PollTimeout)
		switch {
		case err == ErrTimeout:
		case err != nil:
			return errors.Wrap(err, "read error")
		case s.crlfTail(c):
		default:
			s.Print(string(rune(c)))
			switch c {
			case CtrlC:
				return nil
			case '\r', '\n':
				s.Println()
				line = append(line, '\r', '\n')
				if _, err := sock.Write(line); err != nil {
					return errors.Wrap(err, "AT socket write")
				}
				line = line[:0]
			default:
				if len(line) < b.LineSize {
					line = append(line, c)
				}
			}
		}
		n, ok, err := sock.Recv(rx)
		if err != nil {
			return errors.Wrap(err, "AT socket recv")
		}
		if ok && n > 1 {
			// drop the terminating NUL
			if _, err := s.Write(rx[:n-1]); err != nil {
				return err
			}
		}
	}
}
