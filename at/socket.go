// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package at

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Socket is a raw, line oriented, view of the modem.
//
// Command lines written to the Socket are issued to the modem in order, and
// the complete response to each, including the final result line, becomes
// available to Recv as CRLF terminated text.
//
// Recv never blocks. Each chunk returned by Recv is terminated by a NUL,
// which is included in the returned length.
type Socket struct {
	a       *AT
	timeout time.Duration

	// command lines waiting to be issued
	tx chan string

	// responses, or errors, from issued commands
	rx chan socketResult

	// the unread remainder of the current response
	pending []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

type socketResult struct {
	data []byte
	err  error
}

// SocketOption is a construction option for a Socket.
type SocketOption func(*Socket)

// WithSocketTimeout sets the maximum time the modem may take to complete a
// command issued through the socket.
//
// The default is 10 seconds.
func WithSocketTimeout(d time.Duration) SocketOption {
	return func(s *Socket) {
		s.timeout = d
	}
}

// OpenSocket creates a Socket on the modem.
//
// The Socket must be closed when no longer required.
func (a *AT) OpenSocket(options ...SocketOption) (*Socket, error) {
	select {
	case <-a.closed:
		return nil, ErrClosed
	default:
	}
	s := &Socket{
		a:       a,
		timeout: 10 * time.Second,
		tx:      make(chan string, 8),
		rx:      make(chan socketResult, 8),
	}
	for _, option := range options {
		option(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// Write queues the command line in p to be issued to the modem.
//
// Any trailing CR and LF are stripped as the modem driver adds its own.
// Write does not wait for the command to complete.
func (s *Socket) Write(p []byte) (int, error) {
	cmd := strings.TrimRight(string(p), "\r\n")
	if cmd == "" {
		return len(p), nil
	}
	if s.ctx.Err() != nil {
		return 0, ErrClosed
	}
	select {
	case <-s.a.closed:
		return 0, ErrClosed
	default:
	}
	select {
	case <-s.ctx.Done():
		return 0, ErrClosed
	case <-s.a.closed:
		return 0, ErrClosed
	case s.tx <- cmd:
		return len(p), nil
	}
}

// Recv copies any available response text into p.
//
// If no response is available Recv returns false. Otherwise it returns the
// number of bytes written to p, including the terminating NUL. p must be at
// least two bytes long.
func (s *Socket) Recv(p []byte) (int, bool, error) {
	if len(p) < 2 {
		return 0, false, errors.New("receive buffer too short")
	}
	if len(s.pending) == 0 {
		select {
		case r := <-s.rx:
			if r.err != nil {
				return 0, false, r.err
			}
			s.pending = r.data
		default:
			return 0, false, nil
		}
	}
	n := copy(p[:len(p)-1], s.pending)
	s.pending = s.pending[n:]
	p[n] = 0
	return n + 1, true, nil
}

// Close stops the socket.
//
// Any queued commands not yet issued are discarded.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *Socket) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.tx:
			r := s.issue(cmd)
			select {
			case s.rx <- r:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// issue performs one command and renders the response as the modem would
// have sent it.
func (s *Socket) issue(cmd string) socketResult {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	info, err := s.a.Command(ctx, cmd)
	status := "OK"
	if err != nil {
		line, ok := StatusLine(err)
		if !ok {
			return socketResult{err: errors.Wrapf(err, "%s", cmd)}
		}
		status = line
	}
	var b strings.Builder
	for _, l := range info {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString(status)
	b.WriteString("\r\n")
	return socketResult{data: []byte(b.String())}
}
