// SPDX-License-Identifier: Apache-2.0

//go:build windows

// Package wincred provides a backend that reads autofill credentials from the
// Windows Credential Manager. Each app is a generic credential whose
// TargetName is "login-autofill/<app>", whose UserName is the login name and
// whose CredentialBlob is the password.
package wincred

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danieljoos/wincred"
	"golang.org/x/sys/windows"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/protocol"
)

// TargetPrefix namespaces every credential this backend owns.
const TargetPrefix = "login-autofill/"

// maxBlob is the Credential Manager's CredentialBlob size limit.
const maxBlob = 2560

// Store implements backend.Backend on the Windows Credential Manager.
type Store struct{}

// New returns a Store.
func New() *Store { return &Store{} }

func target(app string) string { return TargetPrefix + app }

// Lookup returns the credentials stored for app.
func (s *Store) Lookup(app string) (protocol.Credentials, error) {
	cred, err := wincred.GetGenericCredential(target(app))
	if err != nil {
		if isNotFound(err) {
			return protocol.Credentials{}, &backend.ErrNotFound{App: app}
		}
		return protocol.Credentials{}, fmt.Errorf("wincred get %q: %w", app, err)
	}
	return protocol.Credentials{
		Username: cred.UserName,
		Password: string(cred.CredentialBlob),
	}, nil
}

// Set stores credentials for app with PersistLocalMachine scope.
func (s *Store) Set(app string, creds protocol.Credentials) error {
	if len(creds.Password) > maxBlob {
		return fmt.Errorf("password too large for Windows Credential Manager (max %d bytes, got %d)", maxBlob, len(creds.Password))
	}
	cred := wincred.NewGenericCredential(target(app))
	cred.UserName = creds.Username
	cred.CredentialBlob = []byte(creds.Password)
	cred.Comment = "login-autofill credentials for " + app
	cred.Persist = wincred.PersistLocalMachine
	if err := cred.Write(); err != nil {
		return fmt.Errorf("wincred set %q: %w", app, err)
	}
	return nil
}

// Delete removes the credentials for app.
func (s *Store) Delete(app string) error {
	cred, err := wincred.GetGenericCredential(target(app))
	if err != nil {
		if isNotFound(err) {
			return &backend.ErrNotFound{App: app}
		}
		return fmt.Errorf("wincred delete %q: %w", app, err)
	}
	if err := cred.Delete(); err != nil {
		return fmt.Errorf("wincred delete %q: %w", app, err)
	}
	return nil
}

// List returns the app identifiers of every credential under TargetPrefix.
func (s *Store) List() ([]string, error) {
	// FilteredList accepts a filter string where "*" acts as a wildcard.
	creds, err := wincred.FilteredList(TargetPrefix + "*")
	if err != nil {
		if isNotFound(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("wincred list: %w", err)
	}
	apps := make([]string, 0, len(creds))
	for _, c := range creds {
		apps = append(apps, strings.TrimPrefix(c.TargetName, TargetPrefix))
	}
	sort.Strings(apps)
	return apps, nil
}

// isNotFound reports whether err indicates a missing credential.
func isNotFound(err error) bool {
	if errors.Is(err, windows.ERROR_NOT_FOUND) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "element not found") ||
		strings.Contains(lower, "no such")
}
