// SPDX-License-Identifier: Apache-2.0

//go:build windows

package selector

import (
	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/backend/wincred"
)

func platformDefault() string { return WinCred }

func openWinCred() (backend.Backend, error) {
	return wincred.New(), nil
}
