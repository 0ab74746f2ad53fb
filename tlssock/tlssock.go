// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package tlssock provides TLS client sockets whose credentials are looked up
// by security tag.
package tlssock

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Credentials are the PEM encoded credentials stored against a security tag.
type Credentials struct {
	CAChain    string
	ClientCert string
	PrivateKey string
}

// Store holds credentials indexed by security tag.
type Store struct {
	mu    sync.Mutex
	creds map[int]Credentials
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{creds: make(map[int]Credentials)}
}

// ProvisionCertificates stores the credentials against the tag, replacing any
// already stored.
//
// Empty fields are not provisioned. The client certificate and private key
// must be provided together.
func (s *Store) ProvisionCertificates(tag int, c Credentials) error {
	if c.CAChain == "" && c.ClientCert == "" && c.PrivateKey == "" {
		return ErrNoCredentials
	}
	if c.CAChain != "" {
		if !x509.NewCertPool().AppendCertsFromPEM([]byte(c.CAChain)) {
			return errors.Wrap(ErrInvalidCredentials, "CA chain")
		}
	}
	if c.ClientCert != "" || c.PrivateKey != "" {
		if _, err := tls.X509KeyPair([]byte(c.ClientCert), []byte(c.PrivateKey)); err != nil {
			return errors.Wrap(ErrInvalidCredentials, err.Error())
		}
	}
	s.mu.Lock()
	s.creds[tag] = c
	s.mu.Unlock()
	return nil
}

// Lookup returns the credentials stored against the tag.
func (s *Store) Lookup(tag int) (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[tag]
	return c, ok
}

// PeerVerification determines how the server certificate is checked.
type PeerVerification int

const (
	// Disabled accepts any server certificate.
	Disabled PeerVerification = iota
	// Optional verifies the server if a CA chain is available.
	Optional
	// Required always verifies the server.
	Required
)

// Version is the minimum TLS version accepted.
type Version int

const (
	// TLS12 accepts TLS 1.2 or later.
	TLS12 Version = iota
	// TLS13 accepts only TLS 1.3.
	TLS13
)

func (v Version) tlsVersion() uint16 {
	if v == TLS13 {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// Socket is a TLS client socket.
type Socket struct {
	cfg     *tls.Config
	timeout time.Duration
	conn    *tls.Conn
}

// SocketOption modifies a Socket created by NewSocket.
type SocketOption func(*Socket)

// WithTimeout sets the maximum time a read or write may block.
//
// The default is 30 seconds.
func WithTimeout(d time.Duration) SocketOption {
	return func(s *Socket) {
		s.timeout = d
	}
}

// NewSocket creates an unconnected socket using the credentials stored
// against the tags.
//
// Unknown tags are ignored unless peer verification is Required, in which
// case at least one tag must provide a CA chain.
func (s *Store) NewSocket(verify PeerVerification, tags []int, version Version, options ...SocketOption) (*Socket, error) {
	cfg := &tls.Config{MinVersion: version.tlsVersion()}
	var roots *x509.CertPool
	for _, tag := range tags {
		c, ok := s.Lookup(tag)
		if !ok {
			continue
		}
		if c.CAChain != "" {
			if roots == nil {
				roots = x509.NewCertPool()
			}
			roots.AppendCertsFromPEM([]byte(c.CAChain))
		}
		if c.ClientCert != "" {
			cert, err := tls.X509KeyPair([]byte(c.ClientCert), []byte(c.PrivateKey))
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidCredentials, "tag %d", tag)
			}
			cfg.Certificates = append(cfg.Certificates, cert)
		}
	}
	switch {
	case verify == Disabled, verify == Optional && roots == nil:
		cfg.InsecureSkipVerify = true
	case roots == nil:
		return nil, errors.Wrap(ErrNoCredentials, "no CA chain")
	default:
		cfg.RootCAs = roots
	}
	sock := &Socket{cfg: cfg, timeout: 30 * time.Second}
	for _, option := range options {
		option(sock)
	}
	return sock, nil
}

// Connect connects to the server and performs the TLS handshake.
func (s *Socket) Connect(ctx context.Context, host string, port uint16) error {
	if s.conn != nil {
		return ErrConnected
	}
	cfg := s.cfg.Clone()
	cfg.ServerName = host
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.timeout},
		Config:    cfg,
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	s.conn = conn.(*tls.Conn)
	return nil
}

// Write writes all of p to the server.
func (s *Socket) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	n, err := s.conn.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "write")
	}
	return n, nil
}

// RecvWait waits until p is filled or the server closes the connection.
//
// A return shorter than p indicates the end of the stream.
func (s *Socket) RecvWait(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	n, err := io.ReadFull(s.conn, p)
	switch err {
	case nil, io.EOF, io.ErrUnexpectedEOF:
		return n, nil
	}
	return n, errors.Wrap(err, "recv")
}

// Close closes the connection, if any.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

var (
	// ErrNotConnected indicates the socket is not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrConnected indicates the socket is already connected.
	ErrConnected = errors.New("already connected")
	// ErrNoCredentials indicates required credentials are not available.
	ErrNoCredentials = errors.New("no credentials")
	// ErrInvalidCredentials indicates credentials that could not be parsed.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
