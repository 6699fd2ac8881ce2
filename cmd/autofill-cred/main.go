// SPDX-License-Identifier: Apache-2.0

// autofill-cred provisions the credentials that credential-helper serves.
//
// Usage:
//
//	autofill-cred [flags] set <app> <username>   # password read from stdin
//	autofill-cred [flags] delete <app>
//	autofill-cred [flags] list
//	autofill-cred [flags] check                  # is the secret store reachable
//	autofill-cred [flags] keygen [path]          # age identity for the file backend
//
// Flags:
//
//	--backend     name  auto, file, secretservice, wincred or wslbridge
//	--store-path  path  file backend path
//	--identity    path  age identity file for the file backend
//	--force             allow app ids outside the app registry
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/akihiro/login-autofill/internal/backend"
	"github.com/akihiro/login-autofill/internal/backend/file"
	"github.com/akihiro/login-autofill/internal/backend/selector"
	"github.com/akihiro/login-autofill/internal/config"
	"github.com/akihiro/login-autofill/internal/protocol"
)

const usage = `usage:
  autofill-cred [flags] set <app> <username>
  autofill-cred [flags] delete <app>
  autofill-cred [flags] list
  autofill-cred [flags] check
  autofill-cred [flags] keygen [path]
`

var errUsage = errors.New("invalid arguments")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if err := execute(args, stdin, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "autofill-cred: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(stderr, usage)
			return 2
		}
		return 1
	}
	return 0
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("autofill-cred", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cfg.Helper.Backend, "backend", cfg.Helper.Backend, "secret store: auto, file, secretservice, wincred, wslbridge")
	flags.StringVar(&cfg.Helper.StorePath, "store-path", cfg.Helper.StorePath, "file backend path")
	flags.StringVar(&cfg.Helper.Identity, "identity", cfg.Helper.Identity, "age identity file for the file backend")
	force := flags.Bool("force", false, "allow app ids outside the app registry")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	pos := flags.Args()
	if len(pos) == 0 {
		return errUsage
	}
	cmd, pos := pos[0], pos[1:]

	if cmd == "keygen" {
		return keygen(cfg.Helper, pos, stdout)
	}

	store, err := selector.Open(cfg.Helper)
	if err != nil {
		return fmt.Errorf("open secret store: %w", err)
	}

	checkApp := func(app string) error {
		if *force {
			return nil
		}
		reg, err := cfg.Registry()
		if err != nil {
			return err
		}
		if !reg.Known(app) {
			return fmt.Errorf("app %q is not registered (known: %s); use --force to store it anyway",
				app, strings.Join(reg.Apps(), ", "))
		}
		return nil
	}

	switch cmd {
	case "set":
		if len(pos) != 2 {
			return errUsage
		}
		app, username := pos[0], pos[1]
		if err := checkApp(app); err != nil {
			return err
		}
		password, err := readPassword(stdin, stderr)
		if err != nil {
			return err
		}
		if err := store.Set(app, protocol.Credentials{Username: username, Password: password}); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "stored credentials for %s\n", app)
		return nil

	case "delete":
		if len(pos) != 1 {
			return errUsage
		}
		if err := store.Delete(pos[0]); err != nil {
			if backend.IsNotFound(err) {
				return fmt.Errorf("no credentials stored for %s", pos[0])
			}
			return err
		}
		fmt.Fprintf(stdout, "deleted credentials for %s\n", pos[0])
		return nil

	case "list":
		if len(pos) != 0 {
			return errUsage
		}
		apps, err := store.List()
		if err != nil {
			return err
		}
		for _, app := range apps {
			creds, err := store.Lookup(app)
			if err != nil {
				fmt.Fprintf(stdout, "%s\t(unreadable: %v)\n", app, err)
				continue
			}
			fmt.Fprintf(stdout, "%s\t%s\n", app, creds.Username)
		}
		return nil

	case "check":
		if len(pos) != 0 {
			return errUsage
		}
		if err := backend.Check(store); err != nil {
			return fmt.Errorf("secret store unreachable: %w", err)
		}
		fmt.Fprintln(stdout, "secret store ok")
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func keygen(cfg config.HelperConfig, pos []string, stdout io.Writer) error {
	path := cfg.Identity
	if len(pos) > 1 {
		return errUsage
	}
	if len(pos) == 1 {
		path = pos[0]
	}
	if path == "" {
		return fmt.Errorf("%w: no identity path (pass one or set AUTOFILL_HELPER_IDENTITY)", errUsage)
	}
	recipient, err := file.GenerateIdentity(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\npublic key: %s\n", path, recipient)
	return nil
}

// readPassword reads the password without echo from a terminal, otherwise
// the first line of stdin.
func readPassword(stdin io.Reader, stderr io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stderr, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if len(b) == 0 {
			return "", errors.New("empty password")
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
