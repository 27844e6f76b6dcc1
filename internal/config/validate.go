package config

import (
	"fmt"
	"net"
	"net/url"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g. "source.remote.nodes[0]"
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate returns every problem found in the configuration.
func (c Config) Validate() []error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "server.listen_addr",
			Message: fmt.Sprintf("invalid address %q", c.Server.ListenAddr),
			Hint:    "expected host:port, e.g. :8080",
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", c.Logging.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", c.Logging.Format),
			Hint:    "allowed values: json, console",
		})
	}

	if c.Engine.ContextWindow < 0 {
		errs = append(errs, ValidationError{Path: "engine.context_window", Message: "must not be negative"})
	}
	if c.Engine.TickInterval < 0 {
		errs = append(errs, ValidationError{Path: "engine.tick_interval", Message: "must not be negative"})
	}
	if c.Engine.WindowStep < 0 {
		errs = append(errs, ValidationError{Path: "engine.window_step", Message: "must not be negative"})
	}
	if c.Engine.MaxConcurrentFetches < 0 {
		errs = append(errs, ValidationError{Path: "engine.max_concurrent_fetches", Message: "must not be negative", Hint: "0 means unbounded"})
	}

	switch c.Source.Kind {
	case SourceMock:
	case SourceStore:
		if c.Source.Store.DataDir == "" {
			errs = append(errs, ValidationError{Path: "source.store.data_dir", Message: "must not be empty"})
		}
		if c.Source.Store.Retention > 0 && c.Source.Store.CleanupInterval <= 0 {
			errs = append(errs, ValidationError{
				Path:    "source.store.cleanup_interval",
				Message: "must be positive when retention is set",
			})
		}
	case SourceRemote:
		if len(c.Source.Remote.Nodes) == 0 {
			errs = append(errs, ValidationError{Path: "source.remote.nodes", Message: "at least one node is required"})
		}
		for i, n := range c.Source.Remote.Nodes {
			u, err := url.Parse(n)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("source.remote.nodes[%d]", i),
					Message: fmt.Sprintf("invalid node URL %q", n),
					Hint:    "expected http(s)://host:port",
				})
			}
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "source.kind",
			Message: fmt.Sprintf("invalid value %q", c.Source.Kind),
			Hint:    "allowed values: mock, store, remote",
		})
	}

	return errs
}
