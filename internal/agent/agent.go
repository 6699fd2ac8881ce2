// SPDX-License-Identifier: Apache-2.0

// Package agent detects login pages of registered apps, asks the broker for
// credentials and fills and submits the login form. One Agent serves one page
// load; it never talks to the credential helper directly.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/protocol"
	"github.com/akihiro/login-autofill/internal/registry"
)

// Defaults for the page timing knobs.
const (
	DefaultSettleDelay  = time.Second
	DefaultSubmitDelay  = 500 * time.Millisecond
	DefaultIndicatorTTL = 4 * time.Second
)

// IndicatorText is shown on the page after a successful fill.
const IndicatorText = "Login Autofill: credentials filled"

// Page is one loaded document.
type Page interface {
	// Path returns the URL path of the document.
	Path(ctx context.Context) (string, error)
	// HTML returns the serialized DOM.
	HTML(ctx context.Context) (string, error)
	// Fill sets the value of the element and dispatches input and change
	// events on it.
	Fill(ctx context.Context, selector, value string) error
	// ShowIndicator adds a transient element that removes itself after ttl.
	ShowIndicator(ctx context.Context, text string, ttl time.Duration) error
	Click(ctx context.Context, selector string) error
}

// Messenger delivers a request to the broker. *channel.Client satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, req protocol.Request) (*protocol.Response, error)
}

// ErrNoCredentials is returned when the broker answered without credentials.
var ErrNoCredentials = errors.New("no credentials returned")

// Agent drives autofill for a single page load.
type Agent struct {
	registry  *registry.Registry
	messenger Messenger
	logger    *zap.Logger

	settleDelay  time.Duration
	submitDelay  time.Duration
	indicatorTTL time.Duration

	submitted atomic.Bool
}

// Option configures an Agent.
type Option func(*Agent)

func WithLogger(l *zap.Logger) Option { return func(a *Agent) { a.logger = l } }

func WithSettleDelay(d time.Duration) Option { return func(a *Agent) { a.settleDelay = d } }

func WithSubmitDelay(d time.Duration) Option { return func(a *Agent) { a.submitDelay = d } }

func WithIndicatorTTL(d time.Duration) Option { return func(a *Agent) { a.indicatorTTL = d } }

// New returns an Agent for one page load.
func New(reg *registry.Registry, m Messenger, opts ...Option) *Agent {
	a := &Agent{
		registry:     reg,
		messenger:    m,
		logger:       zap.NewNop(),
		settleDelay:  DefaultSettleDelay,
		submitDelay:  DefaultSubmitDelay,
		indicatorTTL: DefaultIndicatorTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DetectApp returns the app registered for path.
func (a *Agent) DetectApp(path string) (string, bool) {
	return a.registry.Match(path)
}

// Init runs autofill if the page belongs to a registered app and shows exactly
// one password input. Otherwise it returns nil without contacting the broker.
func (a *Agent) Init(ctx context.Context, page Page) error {
	path, err := page.Path(ctx)
	if err != nil {
		return fmt.Errorf("page path: %w", err)
	}
	app, ok := a.DetectApp(path)
	if !ok {
		a.logger.Debug("page not registered", zap.String("path", path))
		return nil
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return fmt.Errorf("page html: %w", err)
	}
	switch n := CountPasswordFields(html); n {
	case 1:
	case 0:
		a.logger.Debug("no password field", zap.String("app", app), zap.String("path", path))
		return nil
	default:
		a.logger.Info("not a login page", zap.String("app", app), zap.String("path", path), zap.Int("password_fields", n))
		return nil
	}

	// Let the page's own scripts attach their form handlers first.
	if err := sleep(ctx, a.settleDelay); err != nil {
		return err
	}
	return a.AutoFillLogin(ctx, page, app)
}

// AutoFillLogin requests credentials for app and fills the login form. The
// page is left untouched on any failure, including a fill that fails halfway.
// Once the form has been submitted, further calls do nothing.
func (a *Agent) AutoFillLogin(ctx context.Context, page Page, app string) error {
	log := a.logger.With(zap.String("app", app))
	if a.submitted.Load() {
		log.Debug("form already submitted")
		return nil
	}

	resp, err := a.messenger.SendMessage(ctx, protocol.Request{Action: protocol.ActionGetCredentials, App: app})
	if err != nil {
		log.Warn("credential request failed", zap.Error(err))
		return fmt.Errorf("request credentials: %w", err)
	}
	if !resp.Success || resp.Credentials == nil {
		log.Info("credentials unavailable", zap.String("error", resp.Error))
		return fmt.Errorf("%w: %s", ErrNoCredentials, resp.Error)
	}
	creds := *resp.Credentials

	html, err := page.HTML(ctx)
	if err != nil {
		return fmt.Errorf("page html: %w", err)
	}
	form, err := LocateLoginForm(html)
	if err != nil {
		log.Warn("login form not usable", zap.Error(err))
		return err
	}

	if err := page.Fill(ctx, form.Password, creds.Password); err != nil {
		log.Warn("fill password", zap.Error(err))
		return fmt.Errorf("fill password: %w", err)
	}
	if form.Username != "" {
		if err := page.Fill(ctx, form.Username, creds.Username); err != nil {
			log.Warn("fill username", zap.Error(err))
			if clearErr := page.Fill(ctx, form.Password, ""); clearErr != nil {
				log.Warn("clear password", zap.Error(clearErr))
			}
			return fmt.Errorf("fill username: %w", err)
		}
	}
	log.Info("login form filled", zap.Object("credentials", creds), zap.Bool("username_field", form.Username != ""))

	if err := page.ShowIndicator(ctx, IndicatorText, a.indicatorTTL); err != nil {
		log.Debug("show indicator", zap.Error(err))
	}

	if form.Submit == "" {
		return nil
	}
	if err := sleep(ctx, a.submitDelay); err != nil {
		return err
	}
	if !a.submitted.CompareAndSwap(false, true) {
		log.Debug("form already submitted")
		return nil
	}
	if err := page.Click(ctx, form.Submit); err != nil {
		log.Warn("submit login form", zap.Error(err))
		return fmt.Errorf("submit: %w", err)
	}
	log.Info("login form submitted")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
