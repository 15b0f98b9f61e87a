// Package cdp drives a Chrome browser through the DevTools protocol and
// provides the screenshots compared by the launcher.
package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/visreg/visreg/logging"
	"github.com/visreg/visreg/screenshot"
)

// ErrNoElement is returned when none of the selectors of an element capture match
var ErrNoElement = errors.New("no element matches the selectors")

// Options configure how the browser is obtained
type Options struct {
	// RemoteURL connects to a running browser instead of launching one
	RemoteURL string
	ExecPath  string
	Headless  bool
	// ViewportHeight is used when a capture emulates a width or orientation
	ViewportHeight int
	// Timeout bounds every browser command, zero means no limit
	Timeout      time.Duration
	Capabilities map[string]any
	Logger       *slog.Logger
}

// Driver is a chromedp backed browser session
type Driver struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	test screenshot.Test
}

// New launches (or connects to) a browser and opens a tab
func New(parent context.Context, opts Options) (*Driver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = 768
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.NoSandbox,
		)
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocOpts...)
	}

	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))

	// the first Run starts the browser
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Driver{
		ctx: ctx,
		cancel: func() {
			cancel()
			allocCancel()
		},
		opts:   opts,
		logger: logger,
	}, nil
}

// Close shuts the tab and, when it was launched by New, the browser
func (d *Driver) Close() {
	d.cancel()
}

// run executes actions on the tab, aborting when ctx is done
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if d.opts.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, d.opts.Timeout)
		defer timeoutCancel()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(runCtx, actions...)
}

// Navigate opens url and waits for the document body
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// SetActiveTest records which test is issuing captures
func (d *Driver) SetActiveTest(test screenshot.Test) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.test = test
}

// ActiveTest returns the test set by SetActiveTest
func (d *Driver) ActiveTest() screenshot.Test {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.test
}

// Capabilities returns the capabilities the session was configured with
func (d *Driver) Capabilities() map[string]any {
	return maps.Clone(d.opts.Capabilities)
}

// SessionMetadata reads the browser product and user agent
func (d *Driver) SessionMetadata(ctx context.Context) (screenshot.Browser, error) {
	var product, userAgent string
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		_, product, _, userAgent, _, err = browser.GetVersion().Do(ctx)
		return err
	}))
	if err != nil {
		return screenshot.Browser{}, fmt.Errorf("failed to read browser version: %w", err)
	}

	name, version := splitProduct(product)
	if configured, ok := d.opts.Capabilities["browserName"].(string); ok && configured != "" {
		name = configured
	}

	return screenshot.Browser{Name: name, Version: version, UserAgent: userAgent}, nil
}

// CurrentURL returns the location of the tab
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// TakeScreenshot captures the target image described by sc as a base64 PNG.
// Elements matched by exclude selectors are painted over with an opaque mask.
// Emulated viewports, hidden or removed elements and masks are restored
// afterwards.
func (d *Driver) TakeScreenshot(ctx context.Context, sc screenshot.Context) (string, error) {
	var buf []byte

	var tasks chromedp.Tasks
	if sc.Meta.HasWidth() || sc.Meta.HasOrientation() {
		tasks = append(tasks, d.emulateViewport(sc))
		if sc.Options != nil && sc.Options.ViewportChangePause != nil {
			tasks = append(tasks, chromedp.Sleep(time.Duration(*sc.Options.ViewportChangePause)*time.Millisecond))
		}
	}
	if sc.Meta.HasHide() {
		tasks = append(tasks, evaluate(setStyleScript(sc.Meta.Hide, "visibility", "hidden")))
	}
	if sc.Meta.HasRemove() {
		tasks = append(tasks, evaluate(setStyleScript(sc.Meta.Remove, "display", "none")))
	}
	if masked := excludeSelectors(sc.Meta.Exclude); len(masked) > 0 {
		tasks = append(tasks, evaluate(maskScript(masked)))
	}

	switch sc.Type {
	case screenshot.TypeDocument:
		tasks = append(tasks, chromedp.FullScreenshot(&buf, 100))
	case screenshot.TypeViewport:
		tasks = append(tasks, chromedp.CaptureScreenshot(&buf))
	case screenshot.TypeElement:
		tasks = append(tasks, captureElements(sc.Meta.Element, &buf))
	default:
		return "", fmt.Errorf("unsupported capture type %q", sc.Type)
	}

	err := d.run(ctx, tasks)
	d.restore(ctx, sc)
	if err != nil {
		return "", fmt.Errorf("failed to capture %s: %w", sc.Type, err)
	}

	return base64.StdEncoding.EncodeToString(buf), nil
}

// restore undoes every page modification made for a capture
func (d *Driver) restore(ctx context.Context, sc screenshot.Context) {
	var tasks chromedp.Tasks
	if sc.Meta.HasHide() {
		tasks = append(tasks, evaluate(restoreStyleScript("visibility")))
	}
	if sc.Meta.HasRemove() {
		tasks = append(tasks, evaluate(restoreStyleScript("display")))
	}
	if len(excludeSelectors(sc.Meta.Exclude)) > 0 {
		tasks = append(tasks, evaluate(unmaskScript))
	}
	if sc.Meta.HasWidth() || sc.Meta.HasOrientation() {
		tasks = append(tasks, emulation.ClearDeviceMetricsOverride())
	}
	if len(tasks) == 0 {
		return
	}

	if err := d.run(context.WithoutCancel(ctx), tasks); err != nil {
		d.logger.Warn("failed to restore page after capture", "type", sc.Type, "error", err)
	}
}

func (d *Driver) emulateViewport(sc screenshot.Context) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		width := 0
		if sc.Meta.HasWidth() {
			width = *sc.Meta.Width
		} else if err := chromedp.Evaluate(`window.innerWidth`, &width).Do(ctx); err != nil {
			return fmt.Errorf("failed to read viewport width: %w", err)
		}

		var orientation screenshot.Orientation
		if sc.Meta.HasOrientation() {
			orientation = *sc.Meta.Orientation
		}

		w, h := fitViewport(width, d.opts.ViewportHeight, orientation)

		var opts []chromedp.EmulateViewportOption
		switch orientation {
		case screenshot.OrientationLandscape:
			opts = append(opts, chromedp.EmulateLandscape)
		case screenshot.OrientationPortrait:
			opts = append(opts, chromedp.EmulatePortrait)
		}
		return chromedp.EmulateViewport(int64(w), int64(h), opts...).Do(ctx)
	})
}

// fitViewport swaps width and height so that they match the orientation
func fitViewport(width, height int, orientation screenshot.Orientation) (int, int) {
	switch {
	case orientation == screenshot.OrientationLandscape && height > width:
		return height, width
	case orientation == screenshot.OrientationPortrait && width > height:
		return height, width
	default:
		return width, height
	}
}

// splitProduct turns "HeadlessChrome/120.0.6099.109" into ("chrome", "120.0.6099.109")
func splitProduct(product string) (string, string) {
	name, version, _ := strings.Cut(product, "/")
	name = strings.ToLower(strings.TrimPrefix(name, "Headless"))
	return name, version
}

type clipRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// captureElements screenshots the union of the areas covered by selectors
func captureElements(selectors screenshot.Selectors, buf *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var rect *clipRect
		if err := chromedp.Evaluate(boundingRectScript(selectors), &rect).Do(ctx); err != nil {
			return fmt.Errorf("failed to locate elements: %w", err)
		}
		if rect == nil || rect.Width <= 0 || rect.Height <= 0 {
			return fmt.Errorf("%w: %s", ErrNoElement, strings.Join(selectors, ", "))
		}

		data, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height, Scale: 1}).
			Do(ctx)
		if err != nil {
			return err
		}
		*buf = data
		return nil
	})
}

func evaluate(script string) chromedp.Action {
	var ok bool
	return chromedp.Evaluate(script, &ok)
}

func jsonArgument(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

// setStyleScript forces a style property on every match and remembers the
// previous inline value
func setStyleScript(selectors []string, property, value string) string {
	return fmt.Sprintf(`(function (selectors, prop, value) {
  var attr = 'data-visreg-' + prop;
  selectors.forEach(function (sel) {
    document.querySelectorAll(sel).forEach(function (el) {
      if (!el.hasAttribute(attr)) {
        el.setAttribute(attr, el.style.getPropertyValue(prop));
      }
      el.style.setProperty(prop, value, 'important');
    });
  });
  return true;
})(%s, %s, %s)`, jsonArgument(selectors), jsonArgument(property), jsonArgument(value))
}

// restoreStyleScript puts back the inline values saved by setStyleScript
func restoreStyleScript(property string) string {
	return fmt.Sprintf(`(function (prop) {
  var attr = 'data-visreg-' + prop;
  document.querySelectorAll('[' + attr + ']').forEach(function (el) {
    var prev = el.getAttribute(attr);
    el.removeAttribute(attr);
    if (prev) {
      el.style.setProperty(prop, prev);
    } else {
      el.style.removeProperty(prop);
    }
  });
  return true;
})(%s)`, jsonArgument(property))
}

// excludeSelectors returns the selectors of exclude regions. Rectangles are
// left to the comparator.
func excludeSelectors(regions []screenshot.Region) []string {
	var selectors []string
	for _, r := range regions {
		if r.Selector != "" {
			selectors = append(selectors, r.Selector)
		}
	}
	return selectors
}

// maskScript covers every match with an opaque overlay so that its content
// renders identically in every capture
func maskScript(selectors []string) string {
	return fmt.Sprintf(`(function (selectors) {
  selectors.forEach(function (sel) {
    document.querySelectorAll(sel).forEach(function (el) {
      var b = el.getBoundingClientRect();
      if (b.width === 0 || b.height === 0) {
        return;
      }
      var mask = document.createElement('div');
      mask.setAttribute('data-visreg-mask', '');
      mask.style.cssText = 'position:absolute;margin:0;padding:0;border:0;' +
        'pointer-events:none;z-index:2147483647;background:#000;' +
        'left:' + (b.left + window.scrollX) + 'px;top:' + (b.top + window.scrollY) + 'px;' +
        'width:' + b.width + 'px;height:' + b.height + 'px';
      document.documentElement.appendChild(mask);
    });
  });
  return true;
})(%s)`, jsonArgument(selectors))
}

const unmaskScript = `(function () {
  document.querySelectorAll('[data-visreg-mask]').forEach(function (el) {
    el.remove();
  });
  return true;
})()`

// boundingRectScript returns the document coordinates enclosing every match
func boundingRectScript(selectors []string) string {
	return fmt.Sprintf(`(function (selectors) {
  var r = null;
  selectors.forEach(function (sel) {
    document.querySelectorAll(sel).forEach(function (el) {
      var b = el.getBoundingClientRect();
      var x = b.left + window.scrollX, y = b.top + window.scrollY;
      var x2 = x + b.width, y2 = y + b.height;
      if (!r) {
        r = {x: x, y: y, x2: x2, y2: y2};
      } else {
        r.x = Math.min(r.x, x); r.y = Math.min(r.y, y);
        r.x2 = Math.max(r.x2, x2); r.y2 = Math.max(r.y2, y2);
      }
    });
  });
  return r ? {x: r.x, y: r.y, width: r.x2 - r.x, height: r.y2 - r.y} : null;
})(%s)`, jsonArgument(selectors))
}
