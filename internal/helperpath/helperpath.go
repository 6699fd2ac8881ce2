// SPDX-License-Identifier: Apache-2.0

// Package helperpath locates the companion executables of login-autofill.
package helperpath

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrNotFound is returned when no candidate location holds the executable.
var ErrNotFound = errors.New("executable not found")

// DataDirs returns the per-user install directories, most specific first.
func DataDirs() []string {
	var dirs []string
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		dirs = append(dirs, filepath.Join(xdgData, "login-autofill"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "login-autofill"))
	}
	return dirs
}

// Find returns the first existing file called name in the running
// executable's directory, then in dirs, then on PATH.
func Find(name string, dirs ...string) (string, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), name))
	}
	for _, d := range dirs {
		candidates = append(candidates, filepath.Join(d, name))
	}
	if path, err := exec.LookPath(name); err == nil {
		candidates = append(candidates, path)
	}

	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
