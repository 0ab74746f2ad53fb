// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package console

import (
	"context"
	"fmt"
	"time"
)

// Session is the state passed to every command handler.
//
// There is exactly one Session, created at startup, and handlers must not
// retain it beyond their own invocation. All handler output is written
// through the Session.
type Session struct {
	ctx context.Context
	ch  *Channel

	// the last console byte consumed was a CR, shared by the runner and
	// the bridge so a CRLF split between them ends only one line
	lastCR bool

	// Timer is a free running timer available to handlers.
	Timer *Timer
}

// NewSession creates the Session writing to ch.
//
// The ctx is the context passed to blocking modem operations.
func NewSession(ctx context.Context, ch *Channel) *Session {
	return &Session{
		ctx:   ctx,
		ch:    ch,
		Timer: NewTimer(time.Now),
	}
}

// Context returns the context for blocking operations.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Channel returns the console channel.
func (s *Session) Channel() *Channel {
	return s.ch
}

// Write writes p to the console.
func (s *Session) Write(p []byte) (int, error) {
	return s.ch.Write(p)
}

// Print writes to the console in the manner of fmt.Print.
//
// Errors writing to the console are ignored, as there is nowhere to report
// them.
func (s *Session) Print(a ...interface{}) {
	fmt.Fprint(s, a...)
}

// Printf writes to the console in the manner of fmt.Printf.
func (s *Session) Printf(format string, a ...interface{}) {
	fmt.Fprintf(s, format, a...)
}

// Println writes to the console in the manner of fmt.Println.
func (s *Session) Println(a ...interface{}) {
	fmt.Fprintln(s, a...)
}

// crlfTail records b as consumed from the console and returns true if b is
// the LF completing a CRLF, which should be discarded.
func (s *Session) crlfTail(b byte) bool {
	tail := b == '\n' && s.lastCR
	s.lastCR = b == '\r'
	return tail
}

// Timer measures elapsed time from a start point.
type Timer struct {
	now   func() time.Time
	start time.Time
}

// NewTimer creates a Timer, started at creation, that reads time from now.
func NewTimer(now func() time.Time) *Timer {
	return &Timer{now: now, start: now()}
}

// Start restarts the timer from the current time.
func (t *Timer) Start() {
	t.start = t.now()
}

// Elapsed returns the time since the timer was last started.
func (t *Timer) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}
