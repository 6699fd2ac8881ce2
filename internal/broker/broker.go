// SPDX-License-Identifier: Apache-2.0

// Package broker relays credential requests from page agents to a freshly
// started credential helper and enforces a hard deadline on every request.
// The broker never looks inside a response and never stores one.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/protocol"
)

// DefaultTimeout is the watchdog applied to each session.
const DefaultTimeout = 10 * time.Second

// Broker mediates between many concurrent agent requests and the helper.
type Broker struct {
	connector Connector
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// New returns a Broker that opens helper connections through c.
func New(c Connector, opts ...Option) *Broker {
	b := &Broker{
		connector: c,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ErrShutdown is returned for requests arriving after Shutdown.
var ErrShutdown = errors.New("broker is shutting down")

// Handle relays req to a new helper and returns the helper's response as
// received. It fails with protocol.ErrTimeout when the helper does not answer
// within the timeout and with protocol.ErrDisconnected when the connection
// ends without a message. Exactly one of the two results is produced.
func (b *Broker) Handle(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	s := &session{
		id:       uuid.NewString(),
		settled:  make(chan struct{}),
		teardown: make(chan struct{}),
	}
	log := b.logger.With(zap.String("session", s.id), zap.String("action", req.Action), zap.String("app", req.App))

	if !b.register(s) {
		return nil, ErrShutdown
	}
	defer b.unregister(s)

	resp, err := s.run(ctx, b.connector, req, b.timeout)
	switch {
	case err == nil:
		log.Debug("session resolved", zap.Bool("success", resp.Success))
	case errors.Is(err, protocol.ErrTimeout):
		log.Warn("session timed out", zap.Duration("timeout", b.timeout))
	default:
		log.Warn("session failed", zap.Error(err))
	}
	return resp, err
}

// Respond is Handle with every failure folded into a protocol.Response, the
// only shape agents ever see.
func (b *Broker) Respond(ctx context.Context, req protocol.Request) *protocol.Response {
	resp, err := b.Handle(ctx, req)
	if err != nil {
		return protocol.Failure(err)
	}
	return resp
}

// Active returns the number of in-flight sessions.
func (b *Broker) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Shutdown rejects new requests, tears down every in-flight session (each
// then fails with protocol.ErrDisconnected) and waits for them to settle.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	b.closed = true
	pending := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		pending = append(pending, s)
	}
	b.mu.Unlock()

	for _, s := range pending {
		s.abort()
	}
	for _, s := range pending {
		<-s.settled
	}
}

func (b *Broker) register(s *session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.sessions[s.id] = s
	return true
}

func (b *Broker) unregister(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s.id)
}

// session is the state of one in-flight request: its helper connection, its
// watchdog and its outcome. Nothing in it is shared with other sessions.
type session struct {
	id string

	settleOnce sync.Once
	settled    chan struct{}

	abortOnce sync.Once
	teardown  chan struct{}
}

type recvResult struct {
	resp *protocol.Response
	err  error
}

// run opens the connection and races the helper's answer against the
// watchdog, the caller's context and a broker shutdown.
func (s *session) run(ctx context.Context, c Connector, req protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	defer s.settle()

	conn, err := c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDisconnected, err)
	}
	defer conn.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The whole exchange runs under the watchdog. Buffered so the exchange
	// can always deliver and exit once Close unblocks it, even after the
	// session settled another way.
	received := make(chan recvResult, 1)
	go func() {
		if err := conn.Send(req); err != nil {
			received <- recvResult{err: fmt.Errorf("send: %w", err)}
			return
		}
		r, err := conn.Recv()
		received <- recvResult{resp: r, err: err}
	}()

	select {
	case r := <-received:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrDisconnected, r.err)
		}
		return r.resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", protocol.ErrTimeout, timeout)
	case <-s.teardown:
		return nil, fmt.Errorf("%w: %w", protocol.ErrDisconnected, ErrShutdown)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", protocol.ErrDisconnected, ctx.Err())
	}
}

func (s *session) settle() {
	s.settleOnce.Do(func() { close(s.settled) })
}

func (s *session) abort() {
	s.abortOnce.Do(func() { close(s.teardown) })
}
