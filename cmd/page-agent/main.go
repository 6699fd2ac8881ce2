// SPDX-License-Identifier: Apache-2.0

// page-agent watches the pages of a Chromium browser over the DevTools
// protocol and autofills login forms of registered apps with credentials
// obtained from the relay broker.
//
// Usage:
//
//	page-agent [flags]
//
// Flags:
//
//	--broker-url    url   Broker websocket (default: ws://127.0.0.1:47615/messages)
//	--origin        str   Origin presented to the broker
//	--debugger-url  url   DevTools endpoint of a running browser (default: launch one)
//	--headless            Launch the browser headless
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/agent"
	"github.com/akihiro/login-autofill/internal/agent/rodpage"
	"github.com/akihiro/login-autofill/internal/channel"
	"github.com/akihiro/login-autofill/internal/config"
	"github.com/akihiro/login-autofill/internal/logging"
	"github.com/akihiro/login-autofill/internal/protocol"
	"github.com/akihiro/login-autofill/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "page-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("page-agent", pflag.ContinueOnError)
	flags.StringVar(&cfg.Agent.BrokerURL, "broker-url", cfg.Agent.BrokerURL, "broker websocket url")
	flags.StringVar(&cfg.Agent.Origin, "origin", cfg.Agent.Origin, "origin presented to the broker")
	flags.StringVar(&cfg.Agent.DebuggerURL, "debugger-url", cfg.Agent.DebuggerURL, "DevTools endpoint of a running browser")
	flags.BoolVar(&cfg.Agent.Headless, "headless", cfg.Agent.Headless, "launch the browser headless")
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger, err := logging.New("page-agent", cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := channel.Dial(ctx, cfg.Agent.BrokerURL, cfg.Agent.Origin)
	if err != nil {
		return err
	}
	defer client.Close()

	if resp, err := client.SendMessage(ctx, protocol.Request{Action: protocol.ActionPing}); err != nil {
		logger.Warn("broker ping failed", zap.Error(err))
	} else if !resp.Success {
		logger.Warn("credential helper not operational", zap.String("error", resp.Error))
	} else {
		logger.Info("credential helper operational", zap.String("message", resp.Message))
	}

	browser, err := connectBrowser(ctx, cfg.Agent)
	if err != nil {
		return err
	}
	defer func() { _ = browser.Close() }()

	w := &watcher{
		ctx:    ctx,
		reg:    reg,
		client: client,
		cfg:    cfg.Agent,
		logger: logger,
		seen:   make(map[proto.TargetTargetID]bool),
	}
	return w.run(browser)
}

func connectBrowser(ctx context.Context, cfg config.AgentConfig) (*rod.Browser, error) {
	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		u, err := launcher.New().Headless(cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("no debugger url and failed to launch browser: %w", err)
		}
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return browser, nil
}

// watcher runs a fresh agent for every page load in the browser.
type watcher struct {
	ctx    context.Context
	reg    *registry.Registry
	client *channel.Client
	cfg    config.AgentConfig
	logger *zap.Logger

	mu   sync.Mutex
	seen map[proto.TargetTargetID]bool
	wg   sync.WaitGroup
}

func (w *watcher) run(browser *rod.Browser) error {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser); err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}

	wait := browser.EachEvent(func(e *proto.TargetTargetCreated) {
		if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
			return
		}
		page, err := browser.PageFromTarget(e.TargetInfo.TargetID)
		if err != nil {
			w.logger.Debug("attach page", zap.Error(err))
			return
		}
		w.watch(page, false)
	})

	pages, err := browser.Pages()
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	for _, page := range pages {
		w.watch(page, true)
	}

	w.logger.Info("watching browser", zap.Int("pages", len(pages)), zap.Strings("apps", w.reg.Apps()))
	wait()
	w.wg.Wait()
	return nil
}

// watch starts an agent on every load event of page. Pages that are already
// loaded also get one immediately.
func (w *watcher) watch(page *rod.Page, loaded bool) {
	w.mu.Lock()
	if w.seen[page.TargetID] {
		w.mu.Unlock()
		return
	}
	w.seen[page.TargetID] = true
	w.mu.Unlock()

	page = page.Context(w.ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.seen, page.TargetID)
			w.mu.Unlock()
		}()

		if loaded {
			w.autofill(page)
		}
		page.EachEvent(func(*proto.PageLoadEventFired) {
			w.autofill(page)
		})()
	}()
}

// autofill runs a new agent for the current document without blocking the
// event loop.
func (w *watcher) autofill(page *rod.Page) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runAgent(page)
	}()
}

func (w *watcher) runAgent(page *rod.Page) {
	a := agent.New(w.reg, w.client,
		agent.WithLogger(w.logger.With(zap.String("target", string(page.TargetID)))),
		agent.WithSettleDelay(w.cfg.SettleDelay),
		agent.WithSubmitDelay(w.cfg.SubmitDelay),
		agent.WithIndicatorTTL(w.cfg.IndicatorTTL),
	)
	if err := a.Init(w.ctx, rodpage.New(page)); err != nil {
		w.logger.Debug("autofill", zap.String("target", string(page.TargetID)), zap.Error(err))
	}
}
