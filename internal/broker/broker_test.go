// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/akihiro/login-autofill/internal/protocol"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runFakeHelper(mode))
	}
	goleak.VerifyTestMain(m)
}

// fakeConn answers according to respond; a nil respond never answers. With
// stuckSend, Send blocks until the connection is closed.
type fakeConn struct {
	req       protocol.Request
	respond   func(protocol.Request) (*protocol.Response, error)
	stuckSend bool

	closes    atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *fakeConn) Send(req protocol.Request) error {
	if c.stuckSend {
		<-c.closed
		return errors.New("write |1: broken pipe")
	}
	c.req = req
	return nil
}

func (c *fakeConn) Recv() (*protocol.Response, error) {
	if c.respond != nil {
		return c.respond(c.req)
	}
	<-c.closed
	return nil, errors.New("connection closed")
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeConnector struct {
	mu        sync.Mutex
	conns     []*fakeConn
	respond   func(protocol.Request) (*protocol.Response, error)
	stuckSend bool
	err       error
}

func (f *fakeConnector) Connect(context.Context) (Conn, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{respond: f.respond, stuckSend: f.stuckSend, closed: make(chan struct{})}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeConnector) assertEachClosedOnce(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.conns {
		assert.Equal(t, int32(1), c.closes.Load(), "connection %d", i)
	}
}

func TestHandleRelaysResponse(t *testing.T) {
	fc := &fakeConnector{respond: func(req protocol.Request) (*protocol.Response, error) {
		return protocol.Found(protocol.Credentials{Username: "alice", Password: "p@ss"}), nil
	}}
	b := New(fc)

	resp, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionGetCredentials, App: "truai"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "alice", resp.Credentials.Username)
	assert.Equal(t, 0, b.Active())
	fc.assertEachClosedOnce(t)
}

func TestHandleRelaysFailureAsReceived(t *testing.T) {
	fc := &fakeConnector{respond: func(req protocol.Request) (*protocol.Response, error) {
		return protocol.NotFound(req.App), nil
	}}

	resp, err := New(fc).Handle(context.Background(), protocol.Request{Action: protocol.ActionGetCredentials, App: "unknownapp"})
	require.NoError(t, err)
	assert.Equal(t, protocol.NotFound("unknownapp"), resp)
}

func TestHandleTimeout(t *testing.T) {
	fc := &fakeConnector{}
	b := New(fc, WithTimeout(50*time.Millisecond))

	start := time.Now()
	resp, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.False(t, errors.Is(err, protocol.ErrDisconnected))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	fc.assertEachClosedOnce(t)
}

func TestHandleTimeoutWhileSending(t *testing.T) {
	fc := &fakeConnector{stuckSend: true}
	b := New(fc, WithTimeout(50*time.Millisecond))

	resp, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionGetCredentials, App: "truai"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Equal(t, 0, b.Active())
	fc.assertEachClosedOnce(t)
}

func TestHandleDisconnect(t *testing.T) {
	fc := &fakeConnector{respond: func(protocol.Request) (*protocol.Response, error) {
		return nil, errors.New("Native host has exited.")
	}}

	resp, err := New(fc).Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, protocol.ErrDisconnected)
	assert.Contains(t, err.Error(), "Native host has exited.")
	fc.assertEachClosedOnce(t)
}

func TestHandleConnectFailure(t *testing.T) {
	fc := &fakeConnector{err: errors.New("no such file")}

	_, err := New(fc).Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.ErrorIs(t, err, protocol.ErrDisconnected)
}

func TestRespondNormalisesFailures(t *testing.T) {
	b := New(&fakeConnector{}, WithTimeout(10*time.Millisecond))

	resp := b.Respond(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Credentials)
	assert.Contains(t, resp.Error, "timed out")
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	fast := &fakeConnector{respond: func(req protocol.Request) (*protocol.Response, error) {
		return protocol.Found(protocol.Credentials{Username: req.App}), nil
	}}
	slow := &fakeConnector{}
	b := New(&routingConnector{fast: fast, slow: slow}, WithTimeout(100*time.Millisecond))

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			app := fmt.Sprintf("app-%d", i)
			if i%5 == 0 {
				app = fmt.Sprintf("slow-%d", i)
			}
			resp, err := b.Handle(withApp(context.Background(), app),
				protocol.Request{Action: protocol.ActionGetCredentials, App: app})
			errs[i] = err
			if resp != nil && resp.Credentials != nil {
				results[i] = resp.Credentials.Username
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if i%5 == 0 {
			assert.ErrorIs(t, errs[i], protocol.ErrTimeout, "session %d", i)
			continue
		}
		require.NoError(t, errs[i], "session %d", i)
		assert.Equal(t, fmt.Sprintf("app-%d", i), results[i], "session %d got another session's answer", i)
	}
	assert.Equal(t, 0, b.Active())
	assert.Len(t, slow.conns, 4)
	fast.assertEachClosedOnce(t)
	slow.assertEachClosedOnce(t)
}

type appKey struct{}

func withApp(ctx context.Context, app string) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

// routingConnector hands sessions for "slow-*" apps a connection that only
// ends when closed.
type routingConnector struct {
	fast, slow *fakeConnector
}

func (r *routingConnector) Connect(ctx context.Context) (Conn, error) {
	if app, _ := ctx.Value(appKey{}).(string); len(app) > 5 && app[:5] == "slow-" {
		return r.slow.Connect(ctx)
	}
	return r.fast.Connect(ctx)
}

func TestShutdownAbortsInFlightSessions(t *testing.T) {
	fc := &fakeConnector{}
	b := New(fc, WithTimeout(time.Minute))

	done := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
		done <- err
	}()

	require.Eventually(t, func() bool { return b.Active() == 1 }, time.Second, 5*time.Millisecond)
	b.Shutdown()

	err := <-done
	assert.ErrorIs(t, err, protocol.ErrDisconnected)
	fc.assertEachClosedOnce(t)

	_, err = b.Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestContextCancelTearsDownSession(t *testing.T) {
	fc := &fakeConnector{}
	b := New(fc, WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Handle(ctx, protocol.Request{Action: protocol.ActionPing})
	assert.ErrorIs(t, err, protocol.ErrDisconnected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	fc.assertEachClosedOnce(t)
}
