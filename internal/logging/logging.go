// SPDX-License-Identifier: Apache-2.0

// Package logging builds the zap loggers used by every binary. Logs always go
// to stderr: the helper's stdout carries protocol frames.
package logging

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/config"
)

// New returns a logger named after the component.
func New(component string, cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named(component), nil
}
