// SPDX-License-Identifier: Apache-2.0

// Package wslbridge looks up credentials in the Windows Credential Manager
// from inside WSL2. It runs the Windows build of credential-helper through
// WSL interop and speaks the same framed protocol the broker uses, so the
// Windows side needs no companion program of its own.
package wslbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/helperpath"
	"github.com/akihiro/login-autofill/internal/protocol"
)

// HelperName is the Windows helper executable.
const HelperName = "credential-helper.exe"

// DefaultArgs select the Credential Manager on the Windows side.
var DefaultArgs = []string{"--backend=wincred"}

// callTimeout bounds one interop call; it must stay below the broker's
// watchdog.
const callTimeout = 8 * time.Second

// Bridge implements backend.Backend for lookups. Provisioning happens on the
// Windows side with autofill-cred.exe.
type Bridge struct {
	path string
	args []string
}

// New returns a Bridge that runs the helper at path. If path is empty the
// helper is discovered automatically (see findHelper).
func New(path string, args []string) (*Bridge, error) {
	if path == "" {
		discovered, err := findHelper()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	if args == nil {
		args = DefaultArgs
	}
	return &Bridge{path: path, args: args}, nil
}

// findHelper searches next to this binary, in the login-autofill data
// directories and on PATH, which includes Windows directories under WSL
// interop.
func findHelper() (string, error) {
	path, err := helperpath.Find(HelperName, helperpath.DataDirs()...)
	if err != nil {
		return "", fmt.Errorf("%w; place it alongside credential-helper or in ~/.local/share/login-autofill/", err)
	}
	return path, nil
}

// Lookup asks the Windows helper for the credentials of app.
func (b *Bridge) Lookup(app string) (protocol.Credentials, error) {
	resp, err := b.call(protocol.Request{Action: protocol.ActionGetCredentials, App: app})
	if err != nil {
		return protocol.Credentials{}, err
	}
	if resp.Success && resp.Credentials != nil {
		return *resp.Credentials, nil
	}
	if resp.Error == protocol.NotFound(app).Error {
		return protocol.Credentials{}, &backend.ErrNotFound{App: app}
	}
	return protocol.Credentials{}, fmt.Errorf("windows helper: %s", resp.Error)
}

// Ping checks that the Windows helper starts and answers.
func (b *Bridge) Ping() error {
	resp, err := b.call(protocol.Request{Action: protocol.ActionPing})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("windows helper: %s", resp.Error)
	}
	return nil
}

func (b *Bridge) Set(string, protocol.Credentials) error { return backend.ErrReadOnly }

func (b *Bridge) Delete(string) error { return backend.ErrReadOnly }

func (b *Bridge) List() ([]string, error) { return nil, backend.ErrReadOnly }

// call runs one exchange. The helper may exit non-zero after writing a
// failure response, so the response is decoded before the exit status is
// considered.
func (b *Bridge) call(req protocol.Request) (*protocol.Response, error) {
	var in bytes.Buffer
	if err := protocol.Encode(&in, req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.path, b.args...)
	cmd.Stdin = &in
	out, runErr := cmd.Output()

	var resp protocol.Response
	if err := protocol.Decode(bytes.NewReader(out), &resp); err != nil {
		if runErr != nil {
			return nil, describeExit(ctx, runErr)
		}
		return nil, fmt.Errorf("windows helper response: %w", err)
	}
	return &resp, nil
}

func describeExit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("windows helper did not answer within %s", callTimeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("windows helper exited %d: %s", exitErr.ExitCode(), bytes.TrimSpace(exitErr.Stderr))
	}
	return fmt.Errorf("run windows helper: %w", err)
}
