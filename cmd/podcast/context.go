package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/pipeline"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/settings"
)

type commandContext struct {
	configFlag *string
	logFormat  *string
	verbose    *bool

	settingsOnce sync.Once
	settings     settings.Settings
	settingsErr  error

	environ func() []string
}

func newCommandContext(configFlag, logFormat *string, verbose *bool, environ func() []string) *commandContext {
	if environ == nil {
		environ = os.Environ
	}
	return &commandContext{
		configFlag: configFlag,
		logFormat:  logFormat,
		verbose:    verbose,
		environ:    environ,
	}
}

func validateLogFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unsupported log format %q (want text or json)", format)
	}
}

func (c *commandContext) ensureSettings() (settings.Settings, error) {
	c.settingsOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.settings, c.settingsErr = settings.Load(path, c.environ())
	})
	return c.settings, c.settingsErr
}

func (c *commandContext) newLogger(w io.Writer, s settings.Settings) *slog.Logger {
	level := s.Level()
	if c.verbose != nil && *c.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.logFormat != nil && strings.EqualFold(*c.logFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// withEngine opens the store and telemetry for one command and hands fn an
// engine built from s. Everything opened here is closed before it returns.
func (c *commandContext) withEngine(cmd *cobra.Command, s settings.Settings, fn func(*pipeline.Engine) error) (err error) {
	logger := c.newLogger(cmd.ErrOrStderr(), s)
	logger.Debug("settings loaded", "settings", s)

	store, err := s.OpenStore(logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close checkpoint store: %w", cerr))
		}
	}()

	tel, err := setupTelemetry(s, cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if serr := tel.shutdown(cmd.Context()); serr != nil {
			logger.Warn("telemetry shutdown failed", "error", serr)
		}
	}()

	engine, err := pipeline.New(buildServices(s, tel.sink, logger), store, engineOptions(s, logger)...)
	if err != nil {
		return err
	}
	return fn(engine)
}
