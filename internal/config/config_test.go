// SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Helper.Backend)
	assert.Equal(t, []string{"--backend=wincred"}, cfg.Helper.BridgeArgs)
	assert.Equal(t, filepath.Join("/data", "login-autofill", "credentials.json"), cfg.Helper.StorePath)
	assert.Equal(t, 10*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, "127.0.0.1:47615", cfg.Broker.Listen)
	assert.Equal(t, []string{"chrome-extension://login-autofill"}, cfg.Broker.AllowedOrigins)
	assert.Equal(t, 4*time.Second, cfg.Agent.IndicatorTTL)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.True(t, reg.Known("truai"))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTOFILL_BROKER_TIMEOUT", "250ms")
	t.Setenv("AUTOFILL_HELPER_BACKEND", "file")
	t.Setenv("AUTOFILL_HELPER_STORE_PATH", "/tmp/creds.json")
	t.Setenv("AUTOFILL_APPS", "/portal=portal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Broker.Timeout)
	assert.Equal(t, "file", cfg.Helper.Backend)
	assert.Equal(t, "/tmp/creds.json", cfg.Helper.StorePath)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.True(t, reg.Known("portal"))
	assert.False(t, reg.Known("truai"))
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("AUTOFILL_BROKER_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
}
