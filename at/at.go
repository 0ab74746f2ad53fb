// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package at provides a low level driver for the AT interface of a modem.
//
// Commands are passed as complete command lines, including the AT prefix,
// exactly as a user would type them at a terminal, e.g. "AT+CFUN?".
//
// Lines read from the modem flow through a pipeline of three goroutines.
// The scanner splits the stream into lines, the indication filter diverts
// unsolicited result codes to their handlers, and the command server
// collects the remaining lines into the response to the pending command.
package at

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// AT is a modem managed using AT commands.
//
// The closed channel is closed when the connection to the modem is broken,
// i.e. when a Read fails. Once closed all outstanding and subsequent
// commands return ErrClosed and the AT must be recreated.
type AT struct {
	modem io.ReadWriter

	// requests to the command server
	reqs chan request

	// changes to the indication table, run on the indication filter
	indEdits chan func()

	// unsolicited result codes, longest prefix first, owned by the
	// indication filter once running
	inds []indication

	closed chan struct{}

	initCmds []string
}

// Option is a construction option for an AT.
type Option func(*AT)

// New creates an AT driving the modem.
func New(modem io.ReadWriter, options ...Option) *AT {
	a := &AT{
		modem:    modem,
		reqs:     make(chan request),
		indEdits: make(chan func()),
		closed:   make(chan struct{}),
		initCmds: []string{"AT+CMEE=1"},
	}
	for _, option := range options {
		option(a)
	}
	raw := make(chan string)
	lines := make(chan string)
	go scan(modem, raw)
	go a.filter(raw, lines)
	go a.serve(lines)
	return a
}

// InfoHandler receives the lines of an indication.
type InfoHandler func([]string)

// WithIndication registers an indication handler during construction.
func WithIndication(prefix string, handler InfoHandler, options ...IndicationOption) Option {
	return func(a *AT) {
		a.inds = insertIndication(a.inds, newIndication(prefix, handler, options...))
	}
}

// WithInitCmds sets the commands issued by Init.
//
// The default is AT+CMEE=1, so failures are reported as +CME ERROR.
func WithInitCmds(cmds ...string) Option {
	return func(a *AT) {
		a.initCmds = cmds
	}
}

// Closed returns a channel that is closed once the modem is closed.
func (a *AT) Closed() <-chan struct{} {
	return a.closed
}

// Command issues the command line and returns the info lines of the
// response.
//
// The command line must not include the terminating CRLF. A final result
// other than OK is returned as ErrError, CMEError or CMSError.
func (a *AT) Command(ctx context.Context, cmd string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := request{ctx: ctx, cmd: cmd, done: make(chan result, 1)}
	select {
	case <-a.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case a.reqs <- req:
	}
	r := <-req.done
	return r.info, r.err
}

// AddIndication registers a handler for unsolicited lines starting with
// prefix, plus any trailing lines.
//
// Where prefixes overlap the longest matching prefix wins.
// The handler is called from the goroutine reading the modem, so it must
// not block or issue commands.
func (a *AT) AddIndication(prefix string, handler InfoHandler, options ...IndicationOption) error {
	ind := newIndication(prefix, handler, options...)
	errs := make(chan error, 1)
	edit := func() {
		if findIndication(a.inds, prefix) >= 0 {
			errs <- ErrIndicationExists
			return
		}
		a.inds = insertIndication(a.inds, ind)
		errs <- nil
	}
	select {
	case <-a.closed:
		return ErrClosed
	case a.indEdits <- edit:
		return <-errs
	}
}

// CancelIndication removes the handler registered for prefix, if any.
func (a *AT) CancelIndication(prefix string) {
	done := make(chan struct{})
	edit := func() {
		if i := findIndication(a.inds, prefix); i >= 0 {
			a.inds = append(a.inds[:i], a.inds[i+1:]...)
		}
		close(done)
	}
	select {
	case <-a.closed:
	case a.indEdits <- edit:
		<-done
	}
}

// Init terminates any partial command line in the modem then issues the
// init commands, or cmds if provided.
//
// Init should be called once the AT is created and before any other
// commands, to bring the modem into a known state.
func (a *AT) Init(ctx context.Context, cmds ...string) error {
	if _, err := a.modem.Write([]byte("\r\n")); err != nil {
		return errors.Wrap(err, "flush")
	}
	if cmds == nil {
		cmds = a.initCmds
	}
	for _, cmd := range cmds {
		if _, err := a.Command(ctx, cmd); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return errors.Wrapf(err, "%s returned error", cmd)
		}
	}
	return nil
}

type request struct {
	ctx  context.Context
	cmd  string
	done chan result
}

type result struct {
	info []string
	err  error
}

// scan splits the modem output into lines, dropping any NUL padding, and
// closes out when the modem read fails.
func scan(m io.Reader, out chan<- string) {
	s := bufio.NewScanner(m)
	for s.Scan() {
		out <- strings.TrimRight(s.Text(), "\x00")
	}
	close(out)
}

// filter diverts indications to their handlers and passes all other lines
// to out.
//
// Trailing lines are expected to immediately follow their indication.
func (a *AT) filter(in <-chan string, out chan<- string) {
	defer close(out)
	for {
		select {
		case edit := <-a.indEdits:
			edit()
		case line, ok := <-in:
			if !ok {
				return
			}
			ind, ok := matchIndication(a.inds, line)
			if !ok {
				out <- line
				continue
			}
			lines := append(make([]string, 0, ind.lines), line)
			for len(lines) < ind.lines {
				l, ok := <-in
				if !ok {
					return
				}
				lines = append(lines, l)
			}
			ind.handler(lines)
		}
	}
}

// serve runs requests one at a time, discarding any lines that arrive
// while idle.
//
// serve closes the AT when the line stream ends.
func (a *AT) serve(lines <-chan string) {
	defer close(a.closed)
	for {
		select {
		case req := <-a.reqs:
			r, ok := a.run(req, lines)
			req.done <- r
			if !ok {
				return
			}
		case _, ok := <-lines:
			if !ok {
				return
			}
		}
	}
}

// run writes the command and collects its response.
//
// The returned flag is false if the line stream ended.
func (a *AT) run(req request, lines <-chan string) (result, bool) {
	if _, err := a.modem.Write([]byte(req.cmd + "\r\n")); err != nil {
		return result{err: err}, true
	}
	var r result
	for {
		select {
		case <-req.ctx.Done():
			r.err = req.ctx.Err()
			return r, true
		case line, ok := <-lines:
			if !ok {
				return result{err: ErrClosed}, false
			}
			switch kind, err := classify(line, req.cmd); kind {
			case lineInfo:
				r.info = append(r.info, line)
			case lineFinal:
				r.err = err
				return r, true
			}
		}
	}
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineEcho
	lineInfo
	lineFinal
)

// classify identifies a line received in response to cmd.
//
// For a final result line the error corresponding to the result is also
// returned, which is nil for OK.
func classify(line, cmd string) (lineKind, error) {
	switch {
	case line == "":
		return lineBlank, nil
	case line == "OK":
		return lineFinal, nil
	case strings.HasPrefix(line, "ERROR"):
		return lineFinal, ErrError
	case strings.HasPrefix(line, "+CME ERROR:"):
		return lineFinal, CMEError(strings.TrimSpace(line[len("+CME ERROR:"):]))
	case strings.HasPrefix(line, "+CMS ERROR:"):
		return lineFinal, CMSError(strings.TrimSpace(line[len("+CMS ERROR:"):]))
	case strings.EqualFold(line, cmd):
		return lineEcho, nil
	}
	return lineInfo, nil
}

// CMEError is a +CME ERROR result.
//
// The value is the error as reported, numeric or verbose depending on
// AT+CMEE.
type CMEError string

func (e CMEError) Error() string {
	return "CME Error: " + string(e)
}

// CMSError is a +CMS ERROR result.
type CMSError string

func (e CMSError) Error() string {
	return "CMS Error: " + string(e)
}

var (
	// ErrClosed indicates the modem has been closed.
	ErrClosed = errors.New("closed")

	// ErrError indicates the modem returned a plain ERROR result.
	ErrError = errors.New("ERROR")

	// ErrIndicationExists indicates a handler is already registered for a
	// prefix.
	ErrIndicationExists = errors.New("indication exists")
)

// StatusLine returns the final result line the modem sent for err, if err
// is a modem result rather than a failure to communicate.
func StatusLine(err error) (string, bool) {
	cause := errors.Cause(err)
	switch e := cause.(type) {
	case CMEError:
		return "+CME ERROR: " + string(e), true
	case CMSError:
		return "+CMS ERROR: " + string(e), true
	}
	if cause == ErrError {
		return "ERROR", true
	}
	return "", false
}

// indication is an unsolicited result code, such as a GNSS fix, identified
// by its prefix and spanning a fixed number of lines.
type indication struct {
	prefix  string
	lines   int
	handler InfoHandler
}

func newIndication(prefix string, handler InfoHandler, options ...IndicationOption) indication {
	ind := indication{prefix: prefix, handler: handler, lines: 1}
	for _, option := range options {
		option(&ind)
	}
	return ind
}

// IndicationOption modifies an indication.
type IndicationOption func(*indication)

// WithTrailingLines specifies the number of lines following the line
// carrying the prefix.
func WithTrailingLines(l int) IndicationOption {
	return func(ind *indication) {
		ind.lines = l + 1
	}
}

func findIndication(inds []indication, prefix string) int {
	for i, ind := range inds {
		if ind.prefix == prefix {
			return i
		}
	}
	return -1
}

// insertIndication adds ind keeping longer prefixes ahead of shorter.
func insertIndication(inds []indication, ind indication) []indication {
	if i := findIndication(inds, ind.prefix); i >= 0 {
		inds[i] = ind
		return inds
	}
	inds = append(inds, ind)
	sort.SliceStable(inds, func(i, j int) bool {
		return len(inds[i].prefix) > len(inds[j].prefix)
	})
	return inds
}

func matchIndication(inds []indication, line string) (indication, bool) {
	for _, ind := range inds {
		if strings.HasPrefix(line, ind.prefix) {
			return ind, true
		}
	}
	return indication{}, false
}
