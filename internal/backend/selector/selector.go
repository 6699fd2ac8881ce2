// SPDX-License-Identifier: Apache-2.0

// Package selector opens the secret store backend named in configuration.
package selector

import (
	"fmt"
	"strings"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/backend/file"
	"github.com/akihiro/login-autofill/internal/backend/secretservice"
	"github.com/akihiro/login-autofill/internal/backend/wslbridge"
	"github.com/akihiro/login-autofill/internal/config"
)

// Backend names accepted in AUTOFILL_HELPER_BACKEND.
const (
	Auto          = "auto"
	File          = "file"
	SecretService = "secretservice"
	WinCred       = "wincred"
	WSLBridge     = "wslbridge"
)

// Open returns the backend selected by cfg.Backend. "auto" resolves to the
// platform's OS keyring, which under WSL is the Windows Credential Manager.
func Open(cfg config.HelperConfig) (backend.Backend, error) {
	name := cfg.Backend
	if name == "" || name == Auto {
		name = platformDefault()
	}
	switch name {
	case File:
		return file.New(cfg.StorePath, cfg.Identity)
	case SecretService:
		return secretservice.New(), nil
	case WinCred:
		return openWinCred()
	case WSLBridge:
		return wslbridge.New(cfg.BridgePath, cfg.BridgeArgs)
	default:
		return nil, fmt.Errorf("unknown backend %q (want one of %s)", cfg.Backend,
			strings.Join([]string{Auto, File, SecretService, WinCred, WSLBridge}, ", "))
	}
}
