// SPDX-License-Identifier: Apache-2.0

package helperpath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestFindInDirs(t *testing.T) {
	t.Setenv("PATH", "")
	first, second := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(second, "autofill-test-helper"))

	got, err := Find("autofill-test-helper", first, second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "autofill-test-helper"), got)

	touch(t, filepath.Join(first, "autofill-test-helper"))
	got, err = Find("autofill-test-helper", first, second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "autofill-test-helper"), got)
}

func TestFindOnPath(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "autofill-test-helper"))
	t.Setenv("PATH", dir)

	got, err := Find("autofill-test-helper")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "autofill-test-helper"), got)
}

func TestFindSkipsDirectories(t *testing.T) {
	t.Setenv("PATH", "")
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "autofill-test-helper"), 0o755))

	_, err := Find("autofill-test-helper", dir)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDataDirs(t *testing.T) {
	xdg, home := t.TempDir(), t.TempDir()
	t.Setenv("XDG_DATA_HOME", xdg)
	t.Setenv("HOME", home)

	assert.Equal(t, []string{
		filepath.Join(xdg, "login-autofill"),
		filepath.Join(home, ".local", "share", "login-autofill"),
	}, DataDirs())

	t.Setenv("XDG_DATA_HOME", "")
	assert.Equal(t, []string{filepath.Join(home, ".local", "share", "login-autofill")}, DataDirs())
}
