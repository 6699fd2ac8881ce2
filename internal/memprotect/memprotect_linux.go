// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package memprotect hardens the credential helper so that the decrypted
// password it briefly holds cannot be read by other processes of the same
// user or written to swap.
package memprotect

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// HardenProcess must run before any secret is loaded.
//
//  1. prctl(PR_SET_DUMPABLE, 0) disables core dumps, makes /proc/<pid>/mem
//     unreadable by non-root peers and blocks unprivileged ptrace. The
//     flag is read back to confirm it took effect.
//  2. mlockall(MCL_CURRENT|MCL_FUTURE) keeps every page out of swap.
//
// An mlockall failure (small RLIMIT_MEMLOCK, containers) is logged, not
// returned: the dumpable protection alone still applies.
func HardenProcess(logger *zap.Logger) error {
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl PR_SET_DUMPABLE=0: %w", err)
	}
	if dumpable, err := Dumpable(); err != nil {
		return err
	} else if dumpable {
		return errors.New("process still dumpable after PR_SET_DUMPABLE=0")
	}

	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logger.Warn("mlockall failed; secrets may reach swap", zap.Error(err))
	}
	return nil
}

// Dumpable reports the current PR_GET_DUMPABLE value.
func Dumpable() (bool, error) {
	v, err := unix.PrctlRetInt(unix.PR_GET_DUMPABLE, 0, 0, 0, 0)
	if err != nil {
		return false, fmt.Errorf("prctl PR_GET_DUMPABLE: %w", err)
	}
	return v != 0, nil
}
