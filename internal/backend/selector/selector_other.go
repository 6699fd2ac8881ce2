// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package selector

import (
	"errors"
	"os"

	"github.com/akihiro/login-autofill/internal/backend"
)

// platformDefault is the Secret Service, or the Windows Credential Manager
// when running inside WSL.
func platformDefault() string {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return WSLBridge
	}
	return SecretService
}

func openWinCred() (backend.Backend, error) {
	return nil, errors.New("the wincred backend is only available on Windows")
}
