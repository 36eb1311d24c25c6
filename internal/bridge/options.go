package bridge

import (
	"github.com/Iron-Ham/panehost/internal/logging"
)

// Option configures a Bridge.
type Option func(*config)

type config struct {
	logger *logging.Logger
}

// WithLogger sets the logger for the bridge.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
