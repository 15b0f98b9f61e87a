// Package launcher orchestrates comparator hooks around the screenshots of a
// browser session. One Launcher serves one suite run.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/visreg/visreg/logging"
	"github.com/visreg/visreg/screenshot"
)

type suiteState int

const (
	suitePending suiteState = iota
	suiteRunning
	suiteAborted
	suiteEnded
)

// SessionInfo is what the test runner knows at suite start
type SessionInfo struct {
	Specs []string
}

// Launcher owns the session state of one suite run
type Launcher struct {
	driver     Driver
	comparator any
	logger     *slog.Logger

	// mu serialises suite hooks and capture commands
	mu      sync.Mutex
	state   suiteState
	session screenshot.Session
}

// Option configures a Launcher
type Option func(*Launcher)

// WithLogger sets the logger used for hook and driver failures
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a launcher. comparator may implement any subset of
// BeforeHook, BeforeScreenshotHook, AfterScreenshotHook and AfterHook.
func New(driver Driver, comparator any, opts ...Option) *Launcher {
	l := &Launcher{
		driver:     driver,
		comparator: comparator,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnSuiteStart builds the session context and fires the before hook once.
// Any error is fatal for the suite: captures are refused afterwards.
func (l *Launcher) OnSuiteStart(ctx context.Context, info SessionInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != suitePending {
		return ErrSessionStarted
	}
	l.state = suiteAborted

	browser, err := l.driver.SessionMetadata(ctx)
	if err != nil {
		l.logger.Error("failed to read session metadata", "error", err)
		return &DriverError{Op: "session metadata", Err: err}
	}

	session, err := screenshot.NewSession(browser, l.driver.Capabilities(), info.Specs)
	if err != nil {
		l.logger.Error("incomplete session metadata", "error", err)
		return &DriverError{Op: "session metadata", Err: err}
	}
	l.session = session

	if hook, ok := l.comparator.(BeforeHook); ok {
		if err := recovered(func() error { return hook.Before(ctx, session) }); err != nil {
			l.logger.Error("before hook failed, aborting suite", "browser", browser.Name, "error", err)
			return &HookError{Hook: HookBefore, Err: err}
		}
	}

	l.state = suiteRunning
	l.logger.Info("suite started",
		"browser", browser.Name,
		"version", browser.Version,
		"specs", len(session.Specs))
	return nil
}

// Session returns the session context built at suite start
func (l *Launcher) Session() screenshot.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// CheckDocument compares the whole document
func (l *Launcher) CheckDocument(ctx context.Context, name string, opts *screenshot.Options) ([]*screenshot.Result, error) {
	return l.Capture(ctx, screenshot.Request{Type: screenshot.TypeDocument, Name: name, Options: opts})
}

// CheckElement compares the area covered by the given selectors
func (l *Launcher) CheckElement(ctx context.Context, selectors screenshot.Selectors, opts *screenshot.Options) ([]*screenshot.Result, error) {
	return l.Capture(ctx, screenshot.Request{Type: screenshot.TypeElement, Element: selectors, Options: opts})
}

// CheckViewport compares the visible viewport
func (l *Launcher) CheckViewport(ctx context.Context, opts *screenshot.Options) ([]*screenshot.Result, error) {
	return l.Capture(ctx, screenshot.Request{Type: screenshot.TypeViewport, Options: opts})
}

// Capture runs one capture command: one hook pair per target image. The
// returned slice always has one entry per target image, nil where no
// comparison was performed. Failures of individual targets do not stop the
// remaining ones; they are returned together as a *CommandError alongside
// the partial results.
func (l *Launcher) Capture(ctx context.Context, req screenshot.Request) ([]*screenshot.Result, error) {
	req, err := screenshot.Resolve(req)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case suitePending, suiteAborted:
		return nil, ErrSessionNotStarted
	case suiteEnded:
		return nil, ErrSessionEnded
	}

	test := l.driver.ActiveTest()
	logger := l.logger.With("type", req.Type, "test", test.Title)

	var errs []error

	url, err := l.driver.CurrentURL(ctx)
	if err != nil {
		logger.Warn("failed to read current url", "error", err)
		errs = append(errs, &DriverError{Op: "current url", Err: err})
	}

	targets := screenshot.Targets(req.Options)
	results := newCollector(len(targets))

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			logger.Warn("capture cancelled", "remaining", len(targets)-target.Index)
			errs = append(errs, err)
			break
		}

		sc := screenshot.Build(screenshot.BuildInput{
			Request:      req,
			Target:       target,
			Browser:      l.session.Browser,
			Capabilities: l.session.DesiredCapabilities,
			Test:         test,
			URL:          url,
		})

		seq := newHookSequencer(l.comparator)
		result, err := seq.run(ctx, sc, func(ctx context.Context) (string, error) {
			return l.driver.TakeScreenshot(ctx, sc)
		})
		results.collect(target.Index, result)

		if err != nil {
			logger.Error("capture failed",
				"target", target.Index,
				"width", target.Width,
				"orientation", target.Orientation,
				"error", err)
			errs = append(errs, fmt.Errorf("target %d: %w", target.Index, err))
		}
	}

	if len(errs) > 0 {
		return results.results(), &CommandError{Type: req.Type, Test: test, Errs: errs}
	}

	logger.Debug("capture completed", "targets", len(targets))
	return results.results(), nil
}

// OnSuiteEnd fires the after hook once. A failure is logged and returned
// but never affects results already handed out. Later calls are no-ops.
func (l *Launcher) OnSuiteEnd(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case suitePending:
		return ErrSessionNotStarted
	case suiteEnded:
		return nil
	}
	l.state = suiteEnded

	if hook, ok := l.comparator.(AfterHook); ok {
		if err := recovered(func() error { return hook.After(ctx) }); err != nil {
			l.logger.Error("after hook failed", "error", err)
			return &HookError{Hook: HookAfter, Err: err}
		}
	}

	l.logger.Info("suite ended")
	return nil
}
