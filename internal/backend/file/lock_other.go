// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package file

// lockFile is a no-op where flock is unavailable; the Windows build uses the
// wincred backend.
func lockFile(string, bool) (func(), error) {
	return func() {}, nil
}
