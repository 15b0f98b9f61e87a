package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/visreg/visreg/screenshot"
)

type sequencerState int

const (
	stateIdle sequencerState = iota
	stateBeforeScreenshotPending
	stateCapturing
	stateAfterScreenshotPending
	stateDone
)

func (s sequencerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateBeforeScreenshotPending:
		return "beforeScreenshotPending"
	case stateCapturing:
		return "capturing"
	case stateAfterScreenshotPending:
		return "afterScreenshotPending"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("sequencerState(%d)", int(s))
	}
}

// captureFunc takes the raw screenshot for one target image
type captureFunc func(ctx context.Context) (string, error)

// hookSequencer drives the per-capture hook pair. One instance serves
// exactly one target image and cannot be reused.
type hookSequencer struct {
	comparator any
	state      sequencerState
}

func newHookSequencer(comparator any) *hookSequencer {
	return &hookSequencer{comparator: comparator}
}

func (s *hookSequencer) advance(from, to sequencerState) error {
	if s.state != from {
		return fmt.Errorf("%w: cannot move to %s while %s", ErrSequence, to, s.state)
	}
	s.state = to
	return nil
}

// runBeforeScreenshot invokes the beforeScreenshot hook once and waits for it
func (s *hookSequencer) runBeforeScreenshot(ctx context.Context, sc screenshot.Context) error {
	if err := s.advance(stateIdle, stateBeforeScreenshotPending); err != nil {
		return err
	}

	var err error
	if hook, ok := s.comparator.(BeforeScreenshotHook); ok {
		err = recovered(func() error {
			return hook.BeforeScreenshot(ctx, sc)
		})
	}
	s.state = stateCapturing

	if err != nil {
		return &HookError{Hook: HookBeforeScreenshot, Err: err}
	}
	return nil
}

// capture takes the raw screenshot. A nil take skips the capture and leaves
// the image absent.
func (s *hookSequencer) capture(ctx context.Context, take captureFunc) (string, error) {
	if err := s.advance(stateCapturing, stateAfterScreenshotPending); err != nil {
		return "", err
	}
	if take == nil {
		return "", nil
	}

	var image string
	err := recovered(func() error {
		var err error
		image, err = take(ctx)
		return err
	})
	if err != nil {
		return "", &DriverError{Op: "take screenshot", Err: err}
	}
	return image, nil
}

// runAfterScreenshot invokes the afterScreenshot hook once and returns its
// result unchanged
func (s *hookSequencer) runAfterScreenshot(ctx context.Context, sc screenshot.Context, image string) (*screenshot.Result, error) {
	if err := s.advance(stateAfterScreenshotPending, stateDone); err != nil {
		return nil, err
	}

	hook, ok := s.comparator.(AfterScreenshotHook)
	if !ok {
		return nil, nil
	}

	var result *screenshot.Result
	err := recovered(func() error {
		var err error
		result, err = hook.AfterScreenshot(ctx, sc, image)
		return err
	})
	if err != nil {
		return result, &HookError{Hook: HookAfterScreenshot, Err: err}
	}
	return result, nil
}

// recovered calls fn and turns a panic into an ErrPanic error
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// run performs the whole sequence for one target image. Once
// beforeScreenshot has been invoked, afterScreenshot always follows, even
// when the hook, the capture or ctx fail.
func (s *hookSequencer) run(ctx context.Context, sc screenshot.Context, take captureFunc) (*screenshot.Result, error) {
	var errs []error

	if err := s.runBeforeScreenshot(ctx, sc); err != nil {
		errs = append(errs, err)
		take = nil
	}

	image, err := s.capture(ctx, take)
	if err != nil {
		errs = append(errs, err)
	}

	result, err := s.runAfterScreenshot(context.WithoutCancel(ctx), sc, image)
	if err != nil {
		errs = append(errs, err)
	}

	return result, errors.Join(errs...)
}
