// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package console_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/nrfconsole/console"
)

// fakePort emulates the console UART.
//
// Bytes typed by the test are read by the Channel, and everything the
// Channel writes is captured.
type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

// Type sends the bytes to the Channel as if typed by the user.
func (p *fakePort) Type(s string) {
	p.w.Write([]byte(s))
}

func (p *fakePort) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func (p *fakePort) Reset() {
	p.mu.Lock()
	p.out.Reset()
	p.mu.Unlock()
}

func (p *fakePort) Close() {
	p.w.Close()
}

func setupSession(t *testing.T) (*console.Session, *fakePort) {
	t.Helper()
	p := newFakePort()
	ch := console.NewChannel()
	ch.Attach(p)
	require.True(t, ch.Present())
	return console.NewSession(context.Background(), ch), p
}

func TestChannelAbsent(t *testing.T) {
	ch := console.NewChannel()
	assert.False(t, ch.Present())

	n, err := ch.Write([]byte("dropped"))
	assert.Nil(t, err)
	assert.Equal(t, 7, n)

	b, ok, err := ch.ReadByte()
	assert.Nil(t, err)
	assert.False(t, ok)
	assert.Zero(t, b)

	_, err = ch.ReadByteTimeout(time.Millisecond)
	assert.Equal(t, console.ErrTimeout, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, err = ch.Next(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestChannelRead(t *testing.T) {
	p := newFakePort()
	ch := console.NewChannel()
	ch.Attach(p)

	_, ok, err := ch.ReadByte()
	assert.Nil(t, err)
	assert.False(t, ok)

	_, err = ch.ReadByteTimeout(time.Millisecond)
	assert.Equal(t, console.ErrTimeout, err)

	p.Type("ab")
	b, err := ch.ReadByteTimeout(time.Second)
	assert.Nil(t, err)
	assert.Equal(t, byte('a'), b)
	b, err = ch.Next(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, byte('b'), b)

	// failure is sticky
	p.Close()
	_, err = ch.ReadByteTimeout(time.Second)
	require.NotNil(t, err)
	assert.NotEqual(t, console.ErrTimeout, err)
	_, ok, err2 := ch.ReadByte()
	assert.False(t, ok)
	assert.Equal(t, err, err2)
}

func TestChannelWrite(t *testing.T) {
	p := newFakePort()
	ch := console.NewChannel()
	ch.Attach(p)
	n, err := ch.Write([]byte("hello"))
	assert.Nil(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", p.Output())
}

func TestChannelConcurrentWrites(t *testing.T) {
	p := newFakePort()
	ch := console.NewChannel()
	ch.Attach(p)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Write([]byte("0123456789"))
		}()
	}
	wg.Wait()
	out := p.Output()
	assert.Equal(t, 100, len(out))
	for i := 0; i < 100; i += 10 {
		assert.Equal(t, "0123456789", out[i:i+10])
	}
}

func TestSessionPrint(t *testing.T) {
	s, p := setupSession(t)
	s.Print("a", 1)
	s.Printf(" %d", 2)
	s.Println(" b")
	assert.Equal(t, "a1 2 b\n", p.Output())
	assert.NotNil(t, s.Context())
}

func TestTimer(t *testing.T) {
	now := time.Unix(1000, 0)
	tm := console.NewTimer(func() time.Time { return now })
	assert.Equal(t, time.Duration(0), tm.Elapsed())
	now = now.Add(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, tm.Elapsed())
	tm.Start()
	assert.Equal(t, time.Duration(0), tm.Elapsed())
	now = now.Add(time.Second)
	assert.Equal(t, time.Second, tm.Elapsed())
}
