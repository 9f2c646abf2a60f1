package main

import (
	"github.com/septivank/attendance-admission/internal/config"
	"github.com/septivank/attendance-admission/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
