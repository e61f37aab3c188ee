// Package logging builds the zap logger for the worker.
package logging

import (
	"go.uber.org/zap"

	"github.com/pkg/errors"
)

// NewLogger builds a production logger, or a human-readable development one
// for any non-production environment.
func NewLogger(environment, serviceName string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to build logger")
	}

	return logger.With(
		zap.String("service", serviceName),
	), nil
}
