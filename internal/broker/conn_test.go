// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/helper"
	"github.com/akihiro/login-autofill/internal/protocol"
	"github.com/akihiro/login-autofill/internal/registry"
)

// helperModeEnv makes the test binary act as a credential helper; see
// TestMain.
const helperModeEnv = "BROKER_TEST_HELPER_MODE"

type aliceStore struct{}

func (aliceStore) Lookup(app string) (protocol.Credentials, error) {
	if app == "truai" {
		return protocol.Credentials{Username: "alice", Password: "p@ss"}, nil
	}
	return protocol.Credentials{}, &backend.ErrNotFound{App: app}
}

func runFakeHelper(mode string) int {
	switch mode {
	case "serve":
		err := helper.New(aliceStore{}, registry.Default(), nil).Serve(os.Stdin, os.Stdout)
		return helper.ExitCode(err)
	case "hang":
		_, _ = protocol.ReadMessage(os.Stdin)
		time.Sleep(time.Hour)
		return 0
	case "crash":
		_, _ = protocol.ReadMessage(os.Stdin)
		return 3
	case "garbage":
		_, _ = protocol.ReadMessage(os.Stdin)
		_, _ = os.Stdout.Write([]byte{0x20, 0x00, 0x00, 0x00, '{'})
		return 0
	}
	return 99
}

func newProcessBroker(t *testing.T, mode string, timeout time.Duration) *Broker {
	t.Helper()
	c, err := NewProcessConnector(os.Args[0], nil, nil)
	require.NoError(t, err)
	c.Env = []string{helperModeEnv + "=" + mode}
	return New(c, WithTimeout(timeout))
}

func TestProcessGetCredentials(t *testing.T) {
	b := newProcessBroker(t, "serve", 10*time.Second)

	resp, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionGetCredentials, App: "truai"})
	require.NoError(t, err)
	assert.Equal(t, protocol.Found(protocol.Credentials{Username: "alice", Password: "p@ss"}), resp)
}

func TestProcessPingAndMiss(t *testing.T) {
	b := newProcessBroker(t, "serve", 10*time.Second)

	resp, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	require.NoError(t, err)
	assert.Equal(t, protocol.Pong(), resp)

	resp, err = b.Handle(context.Background(), protocol.Request{Action: protocol.ActionGetCredentials, App: "wiki"})
	require.NoError(t, err)
	assert.Equal(t, protocol.NotFound("wiki"), resp)
}

func TestProcessUnknownActionIsRelayed(t *testing.T) {
	b := newProcessBroker(t, "serve", 10*time.Second)

	resp, err := b.Handle(context.Background(), protocol.Request{Action: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, protocol.UnknownAction("bogus"), resp)
}

func TestProcessTimeoutKillsHelper(t *testing.T) {
	b := newProcessBroker(t, "hang", 200*time.Millisecond)

	start := time.Now()
	_, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second, "helper must be killed, not waited for")
	assert.Equal(t, 0, b.Active())
}

func TestProcessCrashIsDisconnect(t *testing.T) {
	b := newProcessBroker(t, "crash", 10*time.Second)

	_, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.ErrorIs(t, err, protocol.ErrDisconnected)
	assert.Contains(t, err.Error(), "status 3")
}

func TestProcessFramingErrorIsDisconnect(t *testing.T) {
	b := newProcessBroker(t, "garbage", 10*time.Second)

	_, err := b.Handle(context.Background(), protocol.Request{Action: protocol.ActionPing})
	assert.ErrorIs(t, err, protocol.ErrDisconnected)
}

func TestNewProcessConnectorNotFound(t *testing.T) {
	t.Setenv("PATH", "")

	_, err := NewProcessConnector("", nil, nil)
	assert.Error(t, err)
}
