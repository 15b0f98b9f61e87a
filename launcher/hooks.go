package launcher

import (
	"context"

	"github.com/visreg/visreg/screenshot"
)

// A comparator is any value implementing a subset of the hook interfaces
// below. Missing hooks are skipped.

// BeforeHook runs once at suite start
type BeforeHook interface {
	Before(ctx context.Context, session screenshot.Session) error
}

// BeforeScreenshotHook runs once per target image, before the raw capture
type BeforeScreenshotHook interface {
	BeforeScreenshot(ctx context.Context, sc screenshot.Context) error
}

// AfterScreenshotHook runs once per target image, after the raw capture.
// image is the base64 encoded PNG, or empty when no image could be taken.
// Returning a nil result means no comparison was performed.
type AfterScreenshotHook interface {
	AfterScreenshot(ctx context.Context, sc screenshot.Context, image string) (*screenshot.Result, error)
}

// AfterHook runs once at suite end
type AfterHook interface {
	After(ctx context.Context) error
}

// Hooks adapts plain functions to the hook interfaces. Nil functions are
// treated as unimplemented.
type Hooks struct {
	BeforeFunc           func(ctx context.Context, session screenshot.Session) error
	BeforeScreenshotFunc func(ctx context.Context, sc screenshot.Context) error
	AfterScreenshotFunc  func(ctx context.Context, sc screenshot.Context, image string) (*screenshot.Result, error)
	AfterFunc            func(ctx context.Context) error
}

func (h Hooks) Before(ctx context.Context, session screenshot.Session) error {
	if h.BeforeFunc == nil {
		return nil
	}
	return h.BeforeFunc(ctx, session)
}

func (h Hooks) BeforeScreenshot(ctx context.Context, sc screenshot.Context) error {
	if h.BeforeScreenshotFunc == nil {
		return nil
	}
	return h.BeforeScreenshotFunc(ctx, sc)
}

func (h Hooks) AfterScreenshot(ctx context.Context, sc screenshot.Context, image string) (*screenshot.Result, error) {
	if h.AfterScreenshotFunc == nil {
		return nil, nil
	}
	return h.AfterScreenshotFunc(ctx, sc, image)
}

func (h Hooks) After(ctx context.Context) error {
	if h.AfterFunc == nil {
		return nil
	}
	return h.AfterFunc(ctx)
}

// Driver is the browser automation session the launcher captures from
type Driver interface {
	// TakeScreenshot returns the base64 encoded PNG for one target image
	TakeScreenshot(ctx context.Context, sc screenshot.Context) (string, error)
	SessionMetadata(ctx context.Context) (screenshot.Browser, error)
	Capabilities() map[string]any
	ActiveTest() screenshot.Test
	CurrentURL(ctx context.Context) (string, error)
}
