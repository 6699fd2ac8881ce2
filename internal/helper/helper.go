// SPDX-License-Identifier: Apache-2.0

// Package helper implements the credential helper's single request/response
// exchange. The helper is started fresh for every request, reads one framed
// message, writes at most one framed response and returns; its caller exits
// with ExitCode of the returned error.
package helper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/protocol"
	"github.com/akihiro/login-autofill/internal/registry"
)

// Exit codes of the helper process.
const (
	ExitOK       = 0
	ExitRequest  = 1 // invalid request, unknown action, store failure
	ExitInternal = 2 // framing error or response could not be written
)

// ErrStore marks a failure of the secret store other than a missing entry.
var ErrStore = errors.New("credential store failure")

// Helper answers one request from the broker.
type Helper struct {
	Store    backend.Lookuper
	Registry *registry.Registry
	Logger   *zap.Logger
}

// New returns a Helper. A nil logger is replaced with a no-op logger.
func New(store backend.Lookuper, reg *registry.Registry, logger *zap.Logger) *Helper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Helper{Store: store, Registry: reg, Logger: logger}
}

// Serve performs one exchange. It returns nil when the exchange succeeded
// (including a "not found" answer) or when r held no message at all.
func (h *Helper) Serve(r io.Reader, w io.Writer) error {
	payload, err := protocol.ReadMessage(r)
	if errors.Is(err, protocol.ErrEndOfStream) {
		h.Logger.Debug("no request on stdin")
		return nil
	}
	if err != nil {
		// No response: the framing is unreliable, so the broker sees the
		// process exit as a disconnect.
		h.Logger.Error("read request", zap.Error(err))
		if !errors.Is(err, protocol.ErrProtocolFraming) {
			err = fmt.Errorf("%w: %v", protocol.ErrProtocolFraming, err)
		}
		return err
	}

	resp, reqErr := h.dispatch(payload)
	if err := protocol.Encode(w, resp); err != nil {
		h.Logger.Error("write response", zap.Error(err))
		return fmt.Errorf("%w: %v", protocol.ErrProtocolFraming, err)
	}
	return reqErr
}

// dispatch returns the response to write and the error that decides the exit
// status.
func (h *Helper) dispatch(payload []byte) (*protocol.Response, error) {
	var req protocol.Request
	if err := json.Unmarshal(payload, &req); err != nil || req.Action == "" {
		h.Logger.Warn("invalid request", zap.Int("bytes", len(payload)), zap.NamedError("decode", err))
		return &protocol.Response{Error: protocol.MsgInvalidRequest}, protocol.ErrInvalidRequest
	}

	log := h.Logger.With(zap.String("action", req.Action), zap.String("app", req.App))

	switch req.Action {
	case protocol.ActionPing:
		log.Debug("ping")
		return protocol.Pong(), nil

	case protocol.ActionGetCredentials:
		return h.getCredentials(log, req.App)

	default:
		log.Warn("unknown action")
		return protocol.UnknownAction(req.Action), protocol.ErrUnknownAction
	}
}

func (h *Helper) getCredentials(log *zap.Logger, app string) (*protocol.Response, error) {
	if app == "" {
		log.Warn("getCredentials without app")
		return &protocol.Response{Error: protocol.MsgInvalidRequest}, protocol.ErrInvalidRequest
	}

	// The app identifier came from page content; the store is never asked
	// about anything outside the registry.
	if !h.Registry.Known(app) {
		log.Warn("app not in registry")
		return protocol.NotFound(app), nil
	}

	creds, err := h.Store.Lookup(app)
	if err != nil {
		if backend.IsNotFound(err) {
			log.Info("credentials not found")
			return protocol.NotFound(app), nil
		}
		log.Error("credential lookup failed", zap.Error(err))
		return &protocol.Response{Error: protocol.MsgStoreFailure}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	log.Info("credentials found", zap.Object("credentials", creds))
	return protocol.Found(creds), nil
}

// ExitCode maps the error returned by Serve to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, protocol.ErrProtocolFraming):
		return ExitInternal
	default:
		return ExitRequest
	}
}
