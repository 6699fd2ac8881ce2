// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package memprotect

import "go.uber.org/zap"

// HardenProcess is a no-op outside Linux.
func HardenProcess(logger *zap.Logger) error {
	logger.Debug("process hardening not available on this platform")
	return nil
}
