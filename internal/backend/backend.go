// SPDX-License-Identifier: Apache-2.0

// Package backend defines the interface to the OS secret stores that hold
// autofill credentials. Each app identifier maps to exactly one
// username/password pair.
package backend

import (
	"errors"

	"github.com/akihiro/login-autofill/internal/protocol"
)

// Lookuper is the single call the credential helper makes into a store.
type Lookuper interface {
	// Lookup returns the credentials stored for app.
	// Returns an error wrapping *ErrNotFound if there are none.
	Lookup(app string) (protocol.Credentials, error)
}

// Backend is a store that can also be provisioned.
type Backend interface {
	Lookuper

	// Set stores credentials for app, replacing any existing entry.
	Set(app string, creds protocol.Credentials) error

	// Delete removes the credentials for app.
	// Returns an error wrapping *ErrNotFound if there are none.
	Delete(app string) error

	// List returns every app identifier with stored credentials.
	List() ([]string, error)
}

// Pinger is implemented by stores that can check they are reachable without
// reading a secret.
type Pinger interface {
	Ping() error
}

// Check verifies that store is reachable, using Ping when available and a
// List otherwise. A read-only store without Ping is assumed reachable.
func Check(store Backend) error {
	if p, ok := store.(Pinger); ok {
		return p.Ping()
	}
	if _, err := store.List(); err != nil && !errors.Is(err, ErrReadOnly) {
		return err
	}
	return nil
}

// ErrNotFound is returned when no credentials exist for an app.
type ErrNotFound struct {
	App string
}

func (e *ErrNotFound) Error() string {
	return "credentials not found: " + e.App
}

// Is lets errors.Is(err, protocol.ErrCredentialsNotFound) match.
func (e *ErrNotFound) Is(target error) bool {
	return target == protocol.ErrCredentialsNotFound
}

// IsNotFound reports whether err wraps *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// ErrReadOnly is returned by provisioning calls on a store opened for lookup
// only.
var ErrReadOnly = errors.New("backend does not support provisioning")
