// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package console

import (
	"context"
	"strings"
	"time"
)

// Control bytes recognised by the console.
const (
	CtrlC     = 0x03
	Backspace = 0x08
	Delete    = 0x7f
)

// Runner reads command lines from the console and dispatches them to the
// items of a Menu.
//
// Lines are accumulated in a fixed size buffer. Once the buffer is full any
// further bytes are dropped, without echo, and when the line is terminated
// the entire line is discarded with a warning rather than dispatching a
// truncated command.
type Runner struct {
	menu     *Menu
	s        *Session
	buf      []byte
	overflow bool
	prompt   string
	fault    func(s *Session, v interface{})
}

// RunnerOption modifies a Runner created by NewRunner.
type RunnerOption func(*Runner)

// WithBufferSize sets the maximum length of a command line.
//
// The default is 64 bytes.
func WithBufferSize(size int) RunnerOption {
	return func(r *Runner) {
		r.buf = make([]byte, 0, size)
	}
}

// WithPrompt sets the prompt printed when the console is ready for a line.
func WithPrompt(prompt string) RunnerOption {
	return func(r *Runner) {
		r.prompt = prompt
	}
}

// WithFaultHandler sets the function called when a command panics.
//
// The default is Halt.
func WithFaultHandler(f func(s *Session, v interface{})) RunnerOption {
	return func(r *Runner) {
		r.fault = f
	}
}

// NewRunner creates a Runner dispatching to the menu.
func NewRunner(menu *Menu, s *Session, options ...RunnerOption) *Runner {
	r := &Runner{
		menu:   menu,
		s:      s,
		buf:    make([]byte, 0, 64),
		prompt: "> ",
		fault:  Halt,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Run prints the prompt then reads and processes bytes from the console
// until the ctx is done or the console fails.
func (r *Runner) Run(ctx context.Context) error {
	r.Prompt()
	for {
		b, err := r.s.Channel().Next(ctx)
		if err != nil {
			return err
		}
		r.InputByte(b)
	}
}

// Prompt prints the prompt.
func (r *Runner) Prompt() {
	r.s.Print(r.prompt)
}

// InputByte processes one byte received from the console.
//
// Any command the byte completes has run to completion before InputByte
// returns.
func (r *Runner) InputByte(b byte) {
	if r.s.crlfTail(b) {
		return
	}
	if b == '\r' || b == '\n' {
		r.s.Print("\r\n")
		r.submit()
		r.Prompt()
		return
	}
	switch {
	case b == CtrlC:
		r.reset()
		r.s.Print("^C\r\n")
		r.Prompt()
	case b == Backspace || b == Delete:
		if len(r.buf) > 0 && !r.overflow {
			r.buf = r.buf[:len(r.buf)-1]
			r.s.Print("\b \b")
		}
	case b >= 0x20 && b < 0x7f:
		if r.overflow {
			return
		}
		if len(r.buf) == cap(r.buf) {
			r.overflow = true
			return
		}
		r.buf = append(r.buf, b)
		r.s.Write([]byte{b})
	}
	// other control bytes are ignored
}

// Pending returns the line accumulated so far.
func (r *Runner) Pending() string {
	return string(r.buf)
}

func (r *Runner) reset() {
	r.buf = r.buf[:0]
	r.overflow = false
}

func (r *Runner) submit() {
	line := string(r.buf)
	overflow := r.overflow
	r.reset()
	if overflow {
		r.s.Println("Line too long")
		return
	}
	r.Dispatch(line)
}

// Dispatch runs the command on the line.
//
// The line is split at the first run of whitespace into the command token
// and its arguments. Blank lines are ignored.
func (r *Runner) Dispatch(line string) {
	token, args := SplitCommand(line)
	if token == "" {
		return
	}
	item := r.menu.Lookup(token)
	if item == nil {
		if token == "help" {
			r.help()
			return
		}
		r.s.Printf("Command %q not found. Try 'help'.\n", token)
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.fault(r.s, v)
		}
	}()
	item.Invoke(r.s, args)
}

func (r *Runner) help() {
	r.s.Printf("Commands available in %s:\n", r.menu.Label)
	for _, item := range r.menu.Items {
		if item.Help == "" {
			r.s.Printf("  %s\n", item.Command)
			continue
		}
		r.s.Printf("  %s - %s\n", item.Command, item.Help)
	}
	r.s.Println("  help - Show this help")
}

// SplitCommand splits the line into the command token and the remaining
// arguments.
//
// Leading whitespace is ignored. The arguments are returned verbatim after
// the whitespace following the token.
func SplitCommand(line string) (token string, args string) {
	line = strings.TrimLeft(line, whitespace)
	idx := strings.IndexAny(line, whitespace)
	if idx == -1 {
		return line, ""
	}
	return line[:idx], strings.TrimLeft(line[idx:], whitespace)
}

// Halt reports the fault to the console and stops processing forever.
func Halt(s *Session, v interface{}) {
	s.Printf("panicked: %v\n", v)
	for {
		time.Sleep(time.Hour)
	}
}
