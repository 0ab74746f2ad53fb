// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// The mockModem used here replays canned responses keyed by the exact line
// written, so the command set below only needs to be shaped like the nRF91
// AT interface, not behave like it.

package at_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/nrfconsole/at"
	"github.com/warthog618/nrfconsole/trace"
)

var nrfCmds = map[string][]string{
	"\r\n":            {"\r\n"},
	"AT\r\n":          {"OK\r\n"},
	"AT+CMEE=1\r\n":   {"OK\r\n"},
	"AT+CFUN=1\r\n":   {"OK\r\n"},
	"AT+CFUN?\r\n":    {"+CFUN: 1\r\n", "\r\n", "OK\r\n"},
	"AT%XTEMP?\r\n":   {"%XTEMP: 24\r\n", "OK\r\n"},
	"at+cgmr\r\n":     {"mfw_nrf9160_1.3.4\r\n", "OK\r\n"},
	"AT+CGSN=1\r\n":   {"+CGSN: \"352656100367872\"\x00\r\n", "OK\x00\r\n"},
	"AT%XMONITOR\r\n": {"%XMONITOR: 1,\"\",\"\",\"26295\"\r\n", "OK\r\n"},
	"AT+CGDCONT?\r\n": {"+CGDCONT: 0,\"IP\",\"ibasis.iot\"\r\n", "+CGDCONT: 1,\"IPV6\",\"\"\r\n", "OK\r\n"},
	"AT+CESQ\r\n":     {"+CME ERROR: 513\r\n"},
	"AT+CMGS=1\r\n":   {"+CMS ERROR: 500\r\n"},
}

func TestNew(t *testing.T) {
	patterns := []struct {
		name    string
		options []at.Option
	}{
		{"default", nil},
		{"init cmds", []at.Option{at.WithInitCmds("AT")}},
		{"indication", []at.Option{at.WithIndication("+CEREG:", func([]string) {})}},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			a, mm := setupModem(t, nil, p.options...)
			defer mm.Close()
			select {
			case <-a.Closed():
				t.Error("modem closed")
			default:
			}
		}
		t.Run(p.name, f)
	}
}

func TestInit(t *testing.T) {
	patterns := []struct {
		name    string
		options []at.Option
		cmds    []string
		written []string
		err     error
	}{
		{"default", nil, nil, []string{"\r\n", "AT+CMEE=1\r\n"}, nil},
		{"options", []at.Option{at.WithInitCmds("AT", "AT+CFUN=1")}, nil,
			[]string{"\r\n", "AT\r\n", "AT+CFUN=1\r\n"}, nil},
		{"override", nil, []string{"AT"}, []string{"\r\n", "AT\r\n"}, nil},
		{"error", nil, []string{"AT", "AT+CESQ", "AT"},
			[]string{"\r\n", "AT\r\n", "AT+CESQ\r\n"}, at.CMEError("513")},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			a, mm := setupModem(t, nrfCmds, p.options...)
			defer mm.Close()
			err := a.Init(context.Background(), p.cmds...)
			if p.err == nil {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.True(t, errors.Is(err, p.err), err)
				assert.Contains(t, err.Error(), "returned error")
			}
			assert.Equal(t, p.written, mm.Written())
		}
		t.Run(p.name, f)
	}
}

func TestInitResidualOK(t *testing.T) {
	a, mm := setupModem(t, nrfCmds)
	defer mm.Close()
	mm.r <- []byte("\r\nOK\r\nOK\r\n")
	assert.Nil(t, a.Init(context.Background()))
}

func TestInitTimeout(t *testing.T) {
	cmdSet := map[string][]string{
		"\r\n":          {"\r\n"},
		"AT+CMEE=1\r\n": {""},
	}
	a, mm := setupModem(t, cmdSet)
	defer mm.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := a.Init(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestInitFlushError(t *testing.T) {
	a, mm := setupModem(t, nrfCmds)
	defer mm.Close()
	mm.setErrOnWrite()
	err := a.Init(context.Background())
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "flush")
}

func TestCommand(t *testing.T) {
	patterns := []struct {
		name string
		echo bool
		cmd  string
		info []string
		err  error
	}{
		{"bare", false, "AT", nil, nil},
		{"set", false, "AT+CFUN=1", nil, nil},
		{"query", false, "AT+CFUN?", []string{"+CFUN: 1"}, nil},
		{"percent", false, "AT%XTEMP?", []string{"%XTEMP: 24"}, nil},
		{"lower case", false, "at+cgmr", []string{"mfw_nrf9160_1.3.4"}, nil},
		{"nul padded", false, "AT+CGSN=1", []string{"+CGSN: \"352656100367872\""}, nil},
		{"quoted", false, "AT%XMONITOR", []string{"%XMONITOR: 1,\"\",\"\",\"26295\""}, nil},
		{"multi", false, "AT+CGDCONT?",
			[]string{"+CGDCONT: 0,\"IP\",\"ibasis.iot\"", "+CGDCONT: 1,\"IPV6\",\"\""}, nil},
		{"error", false, "AT+NOPE", nil, at.ErrError},
		{"cme", false, "AT+CESQ", nil, at.CMEError("513")},
		{"cms", false, "AT+CMGS=1", nil, at.CMSError("500")},
		{"echo", true, "AT+CFUN?", []string{"+CFUN: 1"}, nil},
		{"echo lower case", true, "at+cgmr", []string{"mfw_nrf9160_1.3.4"}, nil},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			a, mm := setupModem(t, nrfCmds)
			defer mm.Close()
			mm.echo = p.echo
			info, err := a.Command(context.Background(), p.cmd)
			assert.Equal(t, p.err, err)
			assert.Equal(t, p.info, info)
		}
		t.Run(p.name, f)
	}
}

func TestCommandContext(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	patterns := []struct {
		name string
		ctx  context.Context
		err  error
	}{
		{"cancelled", cancelled, context.Canceled},
		{"expired", expired, context.DeadlineExceeded},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			a, mm := setupModem(t, nrfCmds)
			defer mm.Close()
			info, err := a.Command(p.ctx, "AT")
			assert.Equal(t, p.err, err)
			assert.Nil(t, info)
			assert.Empty(t, mm.Written())
		}
		t.Run(p.name, f)
	}
}

func TestCommandNoResponse(t *testing.T) {
	cmdSet := map[string][]string{"AT%XSILENT\r\n": {""}}
	a, mm := setupModem(t, cmdSet)
	defer mm.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Command(ctx, "AT%XSILENT")
	assert.Equal(t, context.DeadlineExceeded, err)

	// the driver remains usable after a timeout
	mm.setResponse("AT\r\n", "OK\r\n")
	_, err = a.Command(context.Background(), "AT")
	assert.Nil(t, err)
}

func TestCommandWriteError(t *testing.T) {
	a, mm := setupModem(t, nrfCmds)
	defer mm.Close()
	mm.setErrOnWrite()
	_, err := a.Command(context.Background(), "AT")
	assert.Equal(t, errWrite, err)
}

func TestCommandClosed(t *testing.T) {
	t.Run("during command", func(t *testing.T) {
		a, mm := setupModem(t, nrfCmds)
		mm.closeOnWrite = true
		info, err := a.Command(context.Background(), "AT+CFUN?")
		assert.Equal(t, at.ErrClosed, err)
		assert.Nil(t, info)
	})
	t.Run("idle", func(t *testing.T) {
		a, mm := setupModem(t, nrfCmds)
		mm.Close()
		select {
		case <-a.Closed():
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for modem to close")
		}
		info, err := a.Command(context.Background(), "AT")
		assert.Equal(t, at.ErrClosed, err)
		assert.Nil(t, info)
	})
}

func expectIndication(t *testing.T, c <-chan []string, expected []string) {
	t.Helper()
	select {
	case n := <-c:
		assert.Equal(t, expected, n)
	case <-time.After(100 * time.Millisecond):
		t.Errorf("no indication received, expected %v", expected)
	}
}

func expectNoIndication(t *testing.T, c <-chan []string) {
	t.Helper()
	select {
	case n := <-c:
		t.Errorf("unexpected indication: %v", n)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestAddIndication(t *testing.T) {
	a, mm := setupModem(t, nil)
	defer mm.Close()
	c := make(chan []string, 2)
	handler := func(lines []string) { c <- lines }

	require.Nil(t, a.AddIndication("#XGPS:", handler))
	expectNoIndication(t, c)
	mm.r <- []byte("#XGPS: 35.6,139.7,40.1,5.0,0.1,90.0,\"2024-01-02 03:04:05\"\r\n")
	expectIndication(t, c, []string{"#XGPS: 35.6,139.7,40.1,5.0,0.1,90.0,\"2024-01-02 03:04:05\""})

	assert.Equal(t, at.ErrIndicationExists, a.AddIndication("#XGPS:", handler))

	require.Nil(t, a.AddIndication("%CMNG:", handler, at.WithTrailingLines(2)))
	mm.r <- []byte("%CMNG: 16842753\r\n-----BEGIN\r\n-----END\r\n")
	expectIndication(t, c, []string{"%CMNG: 16842753", "-----BEGIN", "-----END"})

	mm.Close()
	<-a.Closed()
	assert.Equal(t, at.ErrClosed, a.AddIndication("+CSCON:", handler))
}

func TestIndicationLongestPrefix(t *testing.T) {
	short := make(chan []string, 2)
	long := make(chan []string, 2)
	a, mm := setupModem(t, nil,
		at.WithIndication("$G", func(l []string) { short <- l }))
	defer mm.Close()
	require.Nil(t, a.AddIndication("$GPGGA", func(l []string) { long <- l }))

	mm.r <- []byte("$GPGGA,123519,4807.038,N\r\n")
	expectIndication(t, long, []string{"$GPGGA,123519,4807.038,N"})
	expectNoIndication(t, short)

	mm.r <- []byte("$GPRMC,123519,A\r\n")
	expectIndication(t, short, []string{"$GPRMC,123519,A"})
	expectNoIndication(t, long)
}

func TestIndicationDuringCommand(t *testing.T) {
	cmdSet := map[string][]string{
		"AT+CEREG=2\r\n": {"+CEREG: 2,\"4E2F\",\"01A3F012\",7\r\n", "OK\r\n"},
	}
	a, mm := setupModem(t, cmdSet)
	defer mm.Close()
	c := make(chan []string, 2)
	require.Nil(t, a.AddIndication("+CEREG: 2", func(l []string) { c <- l }))
	info, err := a.Command(context.Background(), "AT+CEREG=2")
	assert.Nil(t, err)
	assert.Nil(t, info)
	expectIndication(t, c, []string{"+CEREG: 2,\"4E2F\",\"01A3F012\",7"})
}

func TestCancelIndication(t *testing.T) {
	cmdSet := map[string][]string{
		"AT#XGPS?\r\n": {"#XGPS: 1,1\r\n", "OK\r\n"},
	}
	a, mm := setupModem(t, cmdSet)
	defer mm.Close()
	c := make(chan []string, 2)
	require.Nil(t, a.AddIndication("#XGPS:", func(l []string) { c <- l }))
	a.CancelIndication("#XGPS:")
	a.CancelIndication("unknown")

	info, err := a.Command(context.Background(), "AT#XGPS?")
	assert.Nil(t, err)
	assert.Equal(t, []string{"#XGPS: 1,1"}, info)
	expectNoIndication(t, c)

	// the prefix can be reused once cancelled
	assert.Nil(t, a.AddIndication("#XGPS:", func([]string) {}))

	mm.Close()
	<-a.Closed()
	a.CancelIndication("#XGPS:")
}

func TestStatusLine(t *testing.T) {
	patterns := []struct {
		name string
		err  error
		line string
		ok   bool
	}{
		{"error", at.ErrError, "ERROR", true},
		{"cme", at.CMEError("513"), "+CME ERROR: 513", true},
		{"cms", at.CMSError("304"), "+CMS ERROR: 304", true},
		{"closed", at.ErrClosed, "", false},
		{"deadline", context.DeadlineExceeded, "", false},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			line, ok := at.StatusLine(p.err)
			assert.Equal(t, p.ok, ok)
			assert.Equal(t, p.line, line)
		}
		t.Run(p.name, f)
	}
}

func TestModemErrors(t *testing.T) {
	assert.Equal(t, "CME Error: 513", at.CMEError("513").Error())
	assert.Equal(t, "CMS Error: 500", at.CMSError("500").Error())
}

var errWrite = errors.New("write error")

type mockModem struct {
	mu           sync.Mutex
	cmdSet       map[string][]string
	closeOnWrite bool
	errOnWrite   bool
	echo         bool
	closed       bool
	written      []string
	// bytes emitted by the modem
	r chan []byte
}

func (m *mockModem) Read(p []byte) (int, error) {
	data, ok := <-m.r
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (m *mockModem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, at.ErrClosed
	}
	if m.errOnWrite {
		return 0, errWrite
	}
	m.written = append(m.written, string(p))
	if m.closeOnWrite {
		m.close()
		return len(p), nil
	}
	if m.echo {
		m.r <- append([]byte(nil), p...)
	}
	v, ok := m.cmdSet[string(p)]
	if !ok {
		m.r <- []byte("\r\nERROR\r\n")
		return len(p), nil
	}
	for _, l := range v {
		if l != "" {
			m.r <- []byte(l)
		}
	}
	return len(p), nil
}

func (m *mockModem) setResponse(cmd string, rsp ...string) {
	m.mu.Lock()
	m.cmdSet[cmd] = rsp
	m.mu.Unlock()
}

func (m *mockModem) setErrOnWrite() {
	m.mu.Lock()
	m.errOnWrite = true
	m.mu.Unlock()
}

func (m *mockModem) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

func (m *mockModem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.close()
	return nil
}

func (m *mockModem) close() {
	if !m.closed {
		m.closed = true
		close(m.r)
	}
}

func setupModem(t *testing.T, cmdSet map[string][]string, options ...at.Option) (*at.AT, *mockModem) {
	t.Helper()
	cs := make(map[string][]string, len(cmdSet))
	for k, v := range cmdSet {
		cs[k] = v
	}
	mm := &mockModem{cmdSet: cs, r: make(chan []byte, 10)}
	var modem io.ReadWriter = mm
	debug := false // set true to trace the flow to the mockModem
	if debug {
		modem = trace.New(modem)
	}
	a := at.New(modem, options...)
	require.NotNil(t, a)
	return a, mm
}
