// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/akihiro/login-autofill/internal/helperpath"
	"github.com/akihiro/login-autofill/internal/protocol"
)

// HelperName is the executable name the broker looks for when no helper path
// is configured.
const HelperName = "credential-helper"

// Conn is one open channel to a credential helper. Recv blocks until the
// helper answers or the channel fails; Close must unblock a pending Recv.
type Conn interface {
	Send(req protocol.Request) error
	Recv() (*protocol.Response, error)
	Close() error
}

// Connector opens a fresh Conn for every session.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ProcessConnector starts the helper executable once per Connect.
type ProcessConnector struct {
	Path   string
	Args   []string
	Env    []string // appended to the broker's environment
	Logger *zap.Logger
}

// NewProcessConnector returns a connector for the helper at path. If path is
// empty the helper is discovered next to the running executable or on PATH.
func NewProcessConnector(path string, args []string, logger *zap.Logger) (*ProcessConnector, error) {
	if path == "" {
		discovered, err := findHelper()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessConnector{Path: path, Args: args, Logger: logger}, nil
}

// findHelper looks next to the broker binary, then on PATH.
func findHelper() (string, error) {
	path, err := helperpath.Find(HelperName)
	if err != nil {
		return "", fmt.Errorf("%w; place it alongside the broker or set AUTOFILL_BROKER_HELPER_PATH", err)
	}
	return path, nil
}

// Connect starts a new helper process. The context only bounds the start;
// the session's watchdog owns the process lifetime afterwards.
func (c *ProcessConnector) Connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdout: %w", err)
	}
	stderr := &zapio.Writer{Log: c.Logger.Named("helper"), Level: zapcore.WarnLevel}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start helper: %w", err)
	}
	return &processConn{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// processConn is a Conn over a helper's stdin/stdout.
type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *zapio.Writer

	closeOnce sync.Once
	closeErr  error
}

func (p *processConn) Send(req protocol.Request) error {
	if err := protocol.Encode(p.stdin, req); err != nil {
		return err
	}
	// The helper reads exactly one message; closing stdin lets a helper that
	// is waiting on a partial frame see end-of-stream.
	return p.stdin.Close()
}

func (p *processConn) Recv() (*protocol.Response, error) {
	var resp protocol.Response
	if err := protocol.Decode(p.stdout, &resp); err != nil {
		if errors.Is(err, protocol.ErrEndOfStream) {
			return nil, p.exitReason()
		}
		return nil, err
	}
	return &resp, nil
}

// exitGrace is how long a helper that closed stdout gets to exit on its own
// before it is killed.
const exitGrace = time.Second

// exitReason describes why the helper closed stdout without answering. The
// helper has already decided to exit, so it is reaped rather than killed.
func (p *processConn) exitReason() error {
	if err := p.shutdown(exitGrace); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("helper exited with status %d", exitErr.ExitCode())
		}
		return err
	}
	return errors.New("helper exited without a response")
}

// Close kills the helper if it is still running and reaps it. It is safe to
// call more than once and from any goroutine.
func (p *processConn) Close() error {
	return p.shutdown(0)
}

func (p *processConn) shutdown(grace time.Duration) error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		exited := make(chan error, 1)
		go func() { exited <- p.cmd.Wait() }()

		if grace > 0 {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case p.closeErr = <-exited:
				_ = p.stderr.Close()
				return
			case <-timer.C:
			}
		}
		_ = p.cmd.Process.Kill()
		p.closeErr = <-exited
		_ = p.stderr.Close()
	})
	return p.closeErr
}
