// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package console provides the interactive command console: the shared
// console UART, the line reader and dispatcher, and the AT pass-through
// bridge.
package console

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Channel is the single shared handle to the console UART.
//
// The Channel is absent until a port is attached. While absent, writes are
// discarded and reads report no data.
//
// Each write holds the guard for exactly that write. Reads never hold it:
// a pump goroutine owns the port's read side and queues the bytes it
// receives, so waiting for input never blocks a writer.
type Channel struct {
	mu   sync.Mutex
	port io.Writer
	rx   chan rxByte
	// sticky read error, set once the port fails
	err error
}

type rxByte struct {
	b   byte
	err error
}

// NewChannel creates an absent Channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Attach makes the port present on the Channel.
//
// Attach is called once, after the port has been opened.
func (c *Channel) Attach(port io.ReadWriter) {
	rx := make(chan rxByte, 256)
	c.mu.Lock()
	c.port = port
	c.rx = rx
	c.mu.Unlock()
	go pump(port, rx)
}

// Present returns true once a port has been attached.
func (c *Channel) Present() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Write writes p to the console.
//
// If the Channel is absent the write is silently discarded.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return len(p), nil
	}
	n, err := c.port.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "console write")
	}
	return n, nil
}

// ReadByte returns the next byte received from the console, if one is
// already available.
//
// ReadByte does not wait. If no byte is available, including when the
// Channel is absent, it returns false.
func (c *Channel) ReadByte() (byte, bool, error) {
	rx, err := c.receiver()
	if err != nil || rx == nil {
		return 0, false, err
	}
	select {
	case r, ok := <-rx:
		b, err := c.deliver(r, ok)
		return b, err == nil, err
	default:
		return 0, false, nil
	}
}

// ReadByteTimeout waits up to d for a byte from the console.
//
// If no byte arrives within d it returns ErrTimeout. Any other error is a
// failure of the port.
func (c *Channel) ReadByteTimeout(d time.Duration) (byte, error) {
	rx, err := c.receiver()
	if err != nil {
		return 0, err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case r, ok := <-rx:
		return c.deliver(r, ok)
	case <-t.C:
		return 0, ErrTimeout
	}
}

// Next waits for the next byte from the console, or for the ctx to be done.
func (c *Channel) Next(ctx context.Context) (byte, error) {
	rx, err := c.receiver()
	if err != nil {
		return 0, err
	}
	select {
	case r, ok := <-rx:
		return c.deliver(r, ok)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Channel) receiver() (chan rxByte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rx, c.err
}

func (c *Channel) deliver(r rxByte, ok bool) (byte, error) {
	if !ok {
		r.err = io.EOF
	}
	if r.err != nil {
		err := errors.Wrap(r.err, "console read")
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		return 0, err
	}
	return r.b, nil
}

// pump moves bytes from the port into rx until the port fails.
func pump(r io.Reader, rx chan<- rxByte) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			rx <- rxByte{b: b}
		}
		if err != nil {
			rx <- rxByte{err: err}
			close(rx)
			return
		}
	}
}

var (
	// ErrTimeout indicates no byte was received from the console within the
	// allotted time.
	ErrTimeout = errors.New("timeout")
)
