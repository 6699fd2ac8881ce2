// SPDX-License-Identifier: Apache-2.0

// Package secretservice provides a backend that reads autofill credentials
// from a Freedesktop.org Secret Service (gnome-keyring, KeePassXC, ...) over
// the session D-Bus.
//
// Each app is one item carrying the attributes
//
//	service   "login-autofill"
//	app       logical app identifier
//	username  login name
//
// whose secret is the password.
package secretservice

import (
	"errors"
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/protocol"
)

const (
	BusName     = "org.freedesktop.secrets"
	ServicePath = dbus.ObjectPath("/org/freedesktop/secrets")

	ServiceIface    = "org.freedesktop.Secret.Service"
	CollectionIface = "org.freedesktop.Secret.Collection"
	ItemIface       = "org.freedesktop.Secret.Item"
	SessionIface    = "org.freedesktop.Secret.Session"

	AlgorithmPlain = "plain"
	AlgorithmDH    = "dh-ietf1024-sha256-aes128-cbc-pkcs7"

	DefaultAlias = "default"

	// ServiceAttr is the value of the "service" attribute on every item this
	// backend owns.
	ServiceAttr = "login-autofill"

	// noPrompt is the object path returned when no user interaction is needed.
	noPrompt = dbus.ObjectPath("/")
)

// ErrLocked is returned when matching items exist but the collection holding
// them is locked.
var ErrLocked = errors.New("secret service collection is locked")

// Secret is the D-Bus type (oayays) representing an encoded secret.
type Secret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// busConn is the part of *dbus.Conn the backend uses.
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// Store implements backend.Backend against the Secret Service. A fresh bus
// connection and session are opened per call and closed before it returns.
type Store struct {
	dial func() (busConn, error)
}

// New returns a Store on the session bus.
func New() *Store {
	return &Store{dial: func() (busConn, error) {
		return dbus.ConnectSessionBus()
	}}
}

// session is an open Secret Service session. key is nil for plain sessions.
type session struct {
	conn busConn
	svc  dbus.BusObject
	path dbus.ObjectPath
	key  []byte
}

func (s *Store) open() (*session, error) {
	conn, err := s.dial()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	sess := &session{conn: conn, svc: conn.Object(BusName, ServicePath)}
	if err := sess.negotiate(); err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// negotiate opens an encrypted session, falling back to plain when the
// service does not support DH.
func (sess *session) negotiate() error {
	kp, err := newDHKeyPair()
	if err != nil {
		return fmt.Errorf("generate DH key pair: %w", err)
	}

	var output dbus.Variant
	err = sess.svc.Call(ServiceIface+".OpenSession", 0, AlgorithmDH, dbus.MakeVariant(kp.publicBytes())).
		Store(&output, &sess.path)
	if err == nil {
		peer, ok := output.Value().([]byte)
		if !ok {
			return errors.New("open session: service returned no DH public key")
		}
		key, err := kp.deriveKey(peer)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		sess.key = key
		return nil
	}

	err = sess.svc.Call(ServiceIface+".OpenSession", 0, AlgorithmPlain, dbus.MakeVariant("")).
		Store(&output, &sess.path)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

func (sess *session) close() {
	if sess.path != "" && sess.path != noPrompt {
		sess.conn.Object(BusName, sess.path).Call(SessionIface+".Close", 0)
	}
	sess.conn.Close()
}

// search returns the unlocked items matching attrs.
func (sess *session) search(attrs map[string]string) ([]dbus.ObjectPath, error) {
	var unlocked, locked []dbus.ObjectPath
	if err := sess.svc.Call(ServiceIface+".SearchItems", 0, attrs).Store(&unlocked, &locked); err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	if len(unlocked) == 0 && len(locked) > 0 {
		return nil, ErrLocked
	}
	return unlocked, nil
}

func (sess *session) attributes(item dbus.ObjectPath) (map[string]string, error) {
	v, err := sess.conn.Object(BusName, item).GetProperty(ItemIface + ".Attributes")
	if err != nil {
		return nil, fmt.Errorf("read attributes of %s: %w", item, err)
	}
	attrs, ok := v.Value().(map[string]string)
	if !ok {
		return nil, fmt.Errorf("read attributes of %s: unexpected type %s", item, v.Signature())
	}
	return attrs, nil
}

func (sess *session) secret(item dbus.ObjectPath) ([]byte, error) {
	var secrets map[dbus.ObjectPath]Secret
	if err := sess.svc.Call(ServiceIface+".GetSecrets", 0, []dbus.ObjectPath{item}, sess.path).Store(&secrets); err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	sec, ok := secrets[item]
	if !ok {
		return nil, fmt.Errorf("get secret: service returned nothing for %s", item)
	}
	if sess.key == nil {
		return sec.Value, nil
	}
	plain, err := aesDecrypt(sess.key, sec.Parameters, sec.Value)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return plain, nil
}

func (sess *session) encode(plaintext []byte) (Secret, error) {
	sec := Secret{Session: sess.path, Parameters: []byte{}, Value: plaintext, ContentType: "text/plain; charset=utf8"}
	if sess.key == nil {
		return sec, nil
	}
	iv, ciphertext, err := aesEncrypt(sess.key, plaintext)
	if err != nil {
		return Secret{}, fmt.Errorf("encrypt secret: %w", err)
	}
	sec.Parameters, sec.Value = iv, ciphertext
	return sec, nil
}

func appAttrs(app string) map[string]string {
	return map[string]string{"service": ServiceAttr, "app": app}
}

// Lookup returns the credentials stored for app.
func (s *Store) Lookup(app string) (protocol.Credentials, error) {
	sess, err := s.open()
	if err != nil {
		return protocol.Credentials{}, err
	}
	defer sess.close()

	items, err := sess.search(appAttrs(app))
	if err != nil {
		return protocol.Credentials{}, err
	}
	if len(items) == 0 {
		return protocol.Credentials{}, &backend.ErrNotFound{App: app}
	}

	attrs, err := sess.attributes(items[0])
	if err != nil {
		return protocol.Credentials{}, err
	}
	password, err := sess.secret(items[0])
	if err != nil {
		return protocol.Credentials{}, err
	}
	return protocol.Credentials{Username: attrs["username"], Password: string(password)}, nil
}

// Set creates or replaces the item for app in the default collection.
func (s *Store) Set(app string, creds protocol.Credentials) error {
	sess, err := s.open()
	if err != nil {
		return err
	}
	defer sess.close()

	var collection dbus.ObjectPath
	if err := sess.svc.Call(ServiceIface+".ReadAlias", 0, DefaultAlias).Store(&collection); err != nil {
		return fmt.Errorf("read default collection: %w", err)
	}
	if collection == noPrompt {
		return errors.New("secret service has no default collection")
	}

	sec, err := sess.encode([]byte(creds.Password))
	if err != nil {
		return err
	}
	attrs := appAttrs(app)
	attrs["username"] = creds.Username
	props := map[string]dbus.Variant{
		ItemIface + ".Label":      dbus.MakeVariant("login-autofill: " + app),
		ItemIface + ".Attributes": dbus.MakeVariant(attrs),
	}

	var item, prompt dbus.ObjectPath
	err = sess.conn.Object(BusName, collection).
		Call(CollectionIface+".CreateItem", 0, props, sec, true).
		Store(&item, &prompt)
	if err != nil {
		return fmt.Errorf("create item for %q: %w", app, err)
	}
	if prompt != noPrompt {
		return ErrLocked
	}
	return nil
}

// Delete removes every item stored for app.
func (s *Store) Delete(app string) error {
	sess, err := s.open()
	if err != nil {
		return err
	}
	defer sess.close()

	items, err := sess.search(appAttrs(app))
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return &backend.ErrNotFound{App: app}
	}
	for _, item := range items {
		var prompt dbus.ObjectPath
		if err := sess.conn.Object(BusName, item).Call(ItemIface+".Delete", 0).Store(&prompt); err != nil {
			return fmt.Errorf("delete %s: %w", item, err)
		}
		if prompt != noPrompt {
			return ErrLocked
		}
	}
	return nil
}

// List returns the app identifiers of every unlocked item this backend owns.
func (s *Store) List() ([]string, error) {
	sess, err := s.open()
	if err != nil {
		return nil, err
	}
	defer sess.close()

	items, err := sess.search(map[string]string{"service": ServiceAttr})
	if err != nil {
		return nil, err
	}
	apps := make([]string, 0, len(items))
	for _, item := range items {
		attrs, err := sess.attributes(item)
		if err != nil {
			return nil, err
		}
		if app := attrs["app"]; app != "" {
			apps = append(apps, app)
		}
	}
	sort.Strings(apps)
	return apps, nil
}
