// Package core wires the resource registries, the window host and the
// profile directory into one running instance.
package core

import (
	"context"

	"github.com/Iron-Ham/panehost/internal/bridge"
	"github.com/Iron-Ham/panehost/internal/config"
	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/event"
	"github.com/Iron-Ham/panehost/internal/logging"
	"github.com/Iron-Ham/panehost/internal/ownership"
	"github.com/Iron-Ham/panehost/internal/profile"
	"github.com/Iron-Ham/panehost/internal/terminal"
	"github.com/Iron-Ham/panehost/internal/watch"
	"github.com/Iron-Ham/panehost/internal/window"
)

// Core owns every long-lived component of the main process.
type Core struct {
	Config    *config.Config
	Bus       *event.Bus
	Index     *ownership.Index
	Windows   *window.Host
	Bridge    *bridge.Bridge
	Terminals *terminal.Registry
	Watches   *watch.Registry
	Profiles  *profile.Directory

	logger *logging.Logger
	subs   []string
}

// Option configures a Core.
type Option func(*options)

type options struct {
	windowOpts []window.Option
}

// WithWindowOptions passes options through to the window host.
func WithWindowOptions(opts ...window.Option) Option {
	return func(o *options) { o.windowOpts = append(o.windowOpts, opts...) }
}

// New builds all components from cfg and subscribes the terminal registry,
// the watch registry and the profile directory to window.closed.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Core, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	bus := event.NewBus(logger)
	index := ownership.New(logger)
	host := window.NewHost(cfg.Window, bus, logger, o.windowOpts...)
	br := bridge.New(host, bridge.WithLogger(logger))

	watches, err := watch.NewRegistry(cfg.Watch, index, br, bus, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create watch registry")
	}

	c := &Core{
		Config:    cfg,
		Bus:       bus,
		Index:     index,
		Windows:   host,
		Bridge:    br,
		Terminals: terminal.NewRegistry(cfg.Terminal, index, br, bus, logger),
		Watches:   watches,
		Profiles:  profile.NewDirectory(host, logger),
		logger:    logger.WithComponent("core"),
	}

	// Retirement must run before the releases so nothing registers after them.
	c.subs = append(c.subs,
		bus.Subscribe(event.TypeWindowClosed, c.retireWindow),
		bus.Subscribe(event.TypeWindowClosed, c.releaseTerminals),
		bus.Subscribe(event.TypeWindowClosed, c.releaseWatches),
		bus.Subscribe(event.TypeWindowClosed, c.Profiles.HandleWindowClosed),
	)
	return c, nil
}

func (c *Core) retireWindow(e event.Event) {
	if closed, ok := e.(event.WindowClosedEvent); ok {
		c.Index.Retire(closed.WindowID)
	}
}

func (c *Core) releaseTerminals(e event.Event) {
	closed, ok := e.(event.WindowClosedEvent)
	if !ok {
		return
	}
	res := c.Terminals.ReleaseWindow(closed.WindowID)
	c.logRelease(closed, "pty", res)
}

func (c *Core) releaseWatches(e event.Event) {
	closed, ok := e.(event.WindowClosedEvent)
	if !ok {
		return
	}
	res := c.Watches.ReleaseWindow(closed.WindowID)
	c.logRelease(closed, "watch", res)
}

func (c *Core) logRelease(closed event.WindowClosedEvent, kind string, res ownership.Result) {
	if res.Destroyed == 0 && res.Failed == 0 {
		return
	}
	log := c.logger.WithWindow(closed.WindowID).WithProfile(closed.ProfileID)
	if res.Failed > 0 {
		log.Warn("window resources released with failures",
			"kind", kind, "destroyed", res.Destroyed, "failed", res.Failed, "reason", closed.Reason)
		return
	}
	log.Info("window resources released", "kind", kind, "destroyed", res.Destroyed, "reason", closed.Reason)
}

// Close closes every window, which cascades to the resources they own, then
// stops anything left in the registries.
func (c *Core) Close(ctx context.Context) error {
	c.Windows.CloseAll(window.ReasonShutdown)

	var errs []error
	if err := c.Terminals.Shutdown(ctx); err != nil {
		errs = append(errs, errors.Wrap(err, "shut down terminals"))
	}
	if err := c.Watches.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close watcher"))
	}
	for _, id := range c.subs {
		c.Bus.Unsubscribe(id)
	}
	c.subs = nil

	stats := c.Bridge.Stats()
	c.logger.Info("core closed",
		"delivered", stats.Delivered,
		"dropped_no_window", stats.DroppedNoWindow,
		"dropped_full", stats.DroppedFull,
	)
	return errors.Join(errs...)
}
