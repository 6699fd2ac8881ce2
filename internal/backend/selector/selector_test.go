// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package selector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akihiro/login-autofill/internal/backend/file"
	"github.com/akihiro/login-autofill/internal/backend/secretservice"
	"github.com/akihiro/login-autofill/internal/backend/wslbridge"
	"github.com/akihiro/login-autofill/internal/config"
)

func TestOpen(t *testing.T) {
	t.Setenv("WSL_DISTRO_NAME", "")

	be, err := Open(config.HelperConfig{Backend: File, StorePath: filepath.Join(t.TempDir(), "c.json")})
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, be)

	be, err = Open(config.HelperConfig{Backend: Auto})
	require.NoError(t, err)
	assert.IsType(t, &secretservice.Store{}, be)

	be, err = Open(config.HelperConfig{Backend: WSLBridge, BridgePath: "/mnt/c/autofill/credential-helper.exe"})
	require.NoError(t, err)
	assert.IsType(t, &wslbridge.Bridge{}, be)

	_, err = Open(config.HelperConfig{Backend: WinCred})
	assert.Error(t, err)

	_, err = Open(config.HelperConfig{Backend: "vault"})
	assert.Error(t, err)
}

func TestAutoUnderWSL(t *testing.T) {
	t.Setenv("WSL_DISTRO_NAME", "Ubuntu")

	be, err := Open(config.HelperConfig{Backend: Auto, BridgePath: "/mnt/c/autofill/credential-helper.exe"})
	require.NoError(t, err)
	assert.IsType(t, &wslbridge.Bridge{}, be)
}
