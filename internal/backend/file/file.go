// SPDX-License-Identifier: Apache-2.0

// Package file provides a backend that keeps credentials in a JSON file,
// optionally encrypted to an age X25519 identity. It is intended for
// development and for hosts without a usable OS keyring.
package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/protocol"
)

// storeData is the top-level JSON structure persisted to disk.
type storeData struct {
	Version     int                             `json:"version"`
	Credentials map[string]protocol.Credentials `json:"credentials"`
}

// Store implements backend.Backend on a single file.
type Store struct {
	path       string
	identities []age.Identity
	recipient  age.Recipient
}

// New returns a Store at path. If identityPath is non-empty the file is
// decrypted with the identities it contains and written encrypted to the
// first X25519 identity's recipient.
func New(path, identityPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{path: path}
	if identityPath == "" {
		return s, nil
	}

	f, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("open identity: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity %s: %w", identityPath, err)
	}
	s.identities = ids
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			s.recipient = x.Recipient()
			break
		}
	}
	return s, nil
}

// GenerateIdentity writes a new age X25519 identity to path and returns its
// public recipient string.
func GenerateIdentity(path string) (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	content := "# public key: " + id.Recipient().String() + "\n" + id.String() + "\n"
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create identity file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write identity file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return id.Recipient().String(), nil
}

// Lookup returns the credentials stored for app.
func (s *Store) Lookup(app string) (protocol.Credentials, error) {
	unlock, err := lockFile(s.path+".lock", false)
	if err != nil {
		return protocol.Credentials{}, err
	}
	defer unlock()

	data, err := s.load()
	if err != nil {
		return protocol.Credentials{}, err
	}
	c, ok := data.Credentials[app]
	if !ok {
		return protocol.Credentials{}, &backend.ErrNotFound{App: app}
	}
	return c, nil
}

// Set stores credentials for app.
func (s *Store) Set(app string, creds protocol.Credentials) error {
	return s.update(func(d *storeData) error {
		d.Credentials[app] = creds
		return nil
	})
}

// Delete removes the credentials for app.
func (s *Store) Delete(app string) error {
	return s.update(func(d *storeData) error {
		if _, ok := d.Credentials[app]; !ok {
			return &backend.ErrNotFound{App: app}
		}
		delete(d.Credentials, app)
		return nil
	})
}

// List returns the stored app identifiers in sorted order.
func (s *Store) List() ([]string, error) {
	unlock, err := lockFile(s.path+".lock", false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	apps := make([]string, 0, len(data.Credentials))
	for app := range data.Credentials {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps, nil
}

func (s *Store) update(fn func(*storeData) error) error {
	unlock, err := lockFile(s.path+".lock", true)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	return s.save(data)
}

// load reads the store. A missing file is an empty store.
// Caller must hold the lock.
func (s *Store) load() (*storeData, error) {
	d := &storeData{Version: 1, Credentials: make(map[string]protocol.Credentials)}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(raw) == 0 {
		return d, nil
	}

	if isAgeFile(raw) {
		if len(s.identities) == 0 {
			return nil, errors.New("store is age-encrypted but no identity is configured")
		}
		r, err := age.Decrypt(bytes.NewReader(raw), s.identities...)
		if err != nil {
			return nil, fmt.Errorf("decrypt store: %w", err)
		}
		if raw, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("decrypt store: %w", err)
		}
	}

	if err := json.Unmarshal(raw, d); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	if d.Credentials == nil {
		d.Credentials = make(map[string]protocol.Credentials)
	}
	return d, nil
}

// save writes the store atomically via a temp file + rename.
// Caller must hold the lock.
func (s *Store) save(d *storeData) error {
	plain, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	out := plain
	if s.recipient != nil {
		var buf bytes.Buffer
		w, err := age.Encrypt(&buf, s.recipient)
		if err != nil {
			return fmt.Errorf("encrypt store: %w", err)
		}
		if _, err := w.Write(plain); err != nil {
			return fmt.Errorf("encrypt store: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("encrypt store: %w", err)
		}
		out = buf.Bytes()
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write tmp store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// isAgeFile reports whether raw is an age file rather than plain JSON.
func isAgeFile(raw []byte) bool {
	return strings.HasPrefix(string(raw[:min(len(raw), 32)]), "age-encryption.org/")
}
