package launcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/visreg/visreg/screenshot"
)

var (
	// ErrHook matches every HookError
	ErrHook = errors.New("comparator hook failed")
	// ErrDriver matches every DriverError
	ErrDriver = errors.New("browser driver failed")
	// ErrSequence is returned when hooks are driven out of order
	ErrSequence = errors.New("hook called out of sequence")
	// ErrPanic wraps a panic raised inside a hook or the driver
	ErrPanic = errors.New("panic")

	ErrSessionNotStarted = errors.New("suite has not started")
	ErrSessionStarted    = errors.New("suite already started")
	ErrSessionEnded      = errors.New("suite already ended")
)

// Hook names as reported in errors and logs
const (
	HookBefore           = "before"
	HookBeforeScreenshot = "beforeScreenshot"
	HookAfterScreenshot  = "afterScreenshot"
	HookAfter            = "after"
)

// HookError wraps a failure raised by a comparator hook
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func (e *HookError) Is(target error) bool { return target == ErrHook }

// DriverError wraps a failure raised by the browser driver
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

func (e *DriverError) Is(target error) bool { return target == ErrDriver }

// CommandError aggregates every failure of one capture command
type CommandError struct {
	Type screenshot.Type
	Test screenshot.Test
	Errs []error
}

func (e *CommandError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s capture in %q failed: %s", e.Type, e.Test.Title, strings.Join(msgs, "; "))
}

func (e *CommandError) Unwrap() []error { return e.Errs }
