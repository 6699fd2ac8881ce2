// SPDX-License-Identifier: Apache-2.0

// credential-helper is the native messaging host that hands autofill
// credentials to the relay broker. It is started fresh for every request and
// never outlives one exchange.
//
// Protocol: reads one frame (4-byte little-endian length + UTF-8 JSON) from
// stdin, writes one frame to stdout, then exits. Exit code 0 means the
// exchange completed (including "not found" answers); non-zero means the
// request was invalid, the action unknown, the store unavailable or the
// framing broken.
//
// Request fields:
//
//	action  string  "getCredentials" | "ping"
//	app     string  logical app identifier (getCredentials only)
//
// Response fields:
//
//	success      bool
//	credentials  {username, password}  (getCredentials hit only)
//	error        string                (failures only)
//	message      string                (ping only)
//
// Browsers pass the caller's origin as the first argument; it is logged and
// otherwise ignored since the host manifest restricts allowed origins.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/backend/selector"
	"github.com/akihiro/login-autofill/internal/config"
	"github.com/akihiro/login-autofill/internal/helper"
	"github.com/akihiro/login-autofill/internal/logging"
	"github.com/akihiro/login-autofill/internal/memprotect"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "credential-helper: %v\n", err)
		return helper.ExitInternal
	}

	flags := pflag.NewFlagSet("credential-helper", pflag.ContinueOnError)
	// Chrome appends --parent-window=<id> on Windows; accept and ignore it.
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.StringVar(&cfg.Helper.Backend, "backend", cfg.Helper.Backend, "secret store: auto, file, secretservice, wincred, wslbridge")
	flags.StringVar(&cfg.Helper.StorePath, "store-path", cfg.Helper.StorePath, "file backend path")
	flags.StringVar(&cfg.Helper.Identity, "identity", cfg.Helper.Identity, "age identity file for the file backend")
	flags.BoolVar(&cfg.Helper.DisableMemprotect, "disable-memprotect", cfg.Helper.DisableMemprotect, "skip prctl/mlockall hardening")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "credential-helper: %v\n", err)
		return helper.ExitInternal
	}

	logger, err := logging.New("credential-helper", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "credential-helper: %v\n", err)
		return helper.ExitInternal
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Helper.DisableMemprotect {
		if err := memprotect.HardenProcess(logger); err != nil {
			logger.Error("harden process", zap.Error(err))
			return helper.ExitInternal
		}
	}

	if origin := flags.Arg(0); origin != "" {
		logger = logger.With(zap.String("origin", origin))
	}

	reg, err := cfg.Registry()
	if err != nil {
		logger.Error("load app registry", zap.Error(err))
		return helper.ExitInternal
	}

	store, err := selector.Open(cfg.Helper)
	if err != nil {
		logger.Error("open secret store", zap.String("backend", cfg.Helper.Backend), zap.Error(err))
		return helper.ExitInternal
	}

	err = helper.New(store, reg, logger).Serve(os.Stdin, os.Stdout)
	code := helper.ExitCode(err)
	if err != nil {
		logger.Warn("exchange failed", zap.Error(err), zap.Int("exit_code", code))
	}
	return code
}
