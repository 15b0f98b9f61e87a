// Package compare provides a comparator plugin that keeps baseline images on
// local disk and compares every new screenshot against them.
package compare

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/visreg/visreg/logging"
	"github.com/visreg/visreg/screenshot"
)

// ReportFileName is written next to the diff images when the suite ends
const ReportFileName = "report.json"

// Options configure a Local comparator
type Options struct {
	BaselineDir       string
	ScreenDir         string
	DiffDir           string
	MisMatchTolerance float64
	Logger            *slog.Logger
}

// Comparison records the outcome of one afterScreenshot call
type Comparison struct {
	Name            string                  `json:"name,omitempty"`
	Type            screenshot.Type         `json:"type"`
	Test            screenshot.Test         `json:"test"`
	Width           *int                    `json:"width,omitempty"`
	Orientation     *screenshot.Orientation `json:"orientation,omitempty"`
	BaselineCreated bool                    `json:"baselineCreated"`
	Result          *screenshot.Result      `json:"result,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Report is the suite summary written by the after hook
type Report struct {
	Session     *screenshot.Session `json:"session,omitempty"`
	Comparisons []Comparison        `json:"comparisons"`
	Failed      int                 `json:"failed"`
}

// Local compares screenshots against baselines stored on disk. The first
// screenshot for a name becomes its baseline. It implements the before,
// afterScreenshot and after hooks.
type Local struct {
	baselines *Store
	screens   *Store
	diffs     *Store
	diffDir   string
	tolerance float64
	logger    *slog.Logger

	mu          sync.Mutex
	session     *screenshot.Session
	comparisons []Comparison
}

// New creates a Local comparator
func New(opts Options) *Local {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Local{
		baselines: NewStore(opts.BaselineDir),
		screens:   NewStore(opts.ScreenDir),
		diffs:     NewStore(opts.DiffDir),
		diffDir:   opts.DiffDir,
		tolerance: opts.MisMatchTolerance,
		logger:    logger,
	}
}

// Baselines exposes the baseline store
func (l *Local) Baselines() *Store {
	return l.baselines
}

// Before prepares the image directories
func (l *Local) Before(_ context.Context, session screenshot.Session) error {
	for _, dir := range []string{l.baselines.Dir(), l.screens.Dir(), l.diffs.Dir()} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	l.mu.Lock()
	l.session = &session
	l.comparisons = nil
	l.mu.Unlock()

	l.logger.Debug("baseline directories ready", "baselines", l.baselines.Dir(), "browser", session.Browser.Name)
	return nil
}

// AfterScreenshot compares the image against its baseline. An empty image
// yields no result.
func (l *Local) AfterScreenshot(_ context.Context, sc screenshot.Context, image string) (*screenshot.Result, error) {
	record := Comparison{
		Name:        sc.Name,
		Type:        sc.Type,
		Test:        sc.Test,
		Width:       sc.Meta.Width,
		Orientation: sc.Meta.Orientation,
	}

	result, err := l.compare(sc, image, &record)
	if err != nil {
		record.Error = err.Error()
	}
	record.Result = result

	l.mu.Lock()
	l.comparisons = append(l.comparisons, record)
	l.mu.Unlock()

	return result, err
}

func (l *Local) compare(sc screenshot.Context, image string, record *Comparison) (*screenshot.Result, error) {
	if image == "" {
		record.Error = "no screenshot taken"
		return nil, nil
	}

	current, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	name, err := BaselineName(sc)
	if err != nil {
		return nil, err
	}

	baseline, err := l.baselines.Load(name)
	if errors.Is(err, ErrNotFound) {
		if err := l.baselines.Save(name, current); err != nil {
			return nil, fmt.Errorf("failed to store baseline: %w", err)
		}
		record.BaselineCreated = true
		l.logger.Info("baseline created", "name", name)
		return &screenshot.Result{
			MisMatchPercentage:        0,
			IsWithinMisMatchTolerance: true,
			IsSameDimensions:          true,
			IsExactSameImage:          true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}

	if HashBytes(baseline) == HashBytes(current) {
		return &screenshot.Result{
			MisMatchPercentage:        0,
			IsWithinMisMatchTolerance: true,
			IsSameDimensions:          true,
			IsExactSameImage:          true,
		}, nil
	}

	diff, err := diffImages(baseline, current, sc.Meta.Exclude)
	if err != nil {
		return nil, err
	}

	tolerance := l.tolerance
	if sc.Options != nil && sc.Options.MisMatchTolerance != nil {
		tolerance = *sc.Options.MisMatchTolerance
	}

	result := &screenshot.Result{
		MisMatchPercentage:        diff.misMatchPercentage,
		IsWithinMisMatchTolerance: diff.misMatchPercentage <= tolerance,
		IsSameDimensions:          diff.sameDimensions,
		IsExactSameImage:          diff.exact(),
	}

	if !result.IsWithinMisMatchTolerance {
		l.logger.Warn("screenshot differs from baseline",
			"name", name,
			"misMatchPercentage", result.MisMatchPercentage,
			"tolerance", tolerance)
		if err := l.keepEvidence(name, current, diff); err != nil {
			return result, err
		}
	}

	return result, nil
}

// keepEvidence stores the failing screenshot and its diff mask
func (l *Local) keepEvidence(name string, current []byte, diff diffResult) error {
	if err := l.screens.Save(name, current); err != nil {
		return fmt.Errorf("failed to store screenshot: %w", err)
	}
	if diff.mask == nil {
		return nil
	}

	mask, err := encodePNG(diff.mask)
	if err != nil {
		return err
	}
	if err := l.diffs.Save(name, mask); err != nil {
		return fmt.Errorf("failed to store diff: %w", err)
	}
	return nil
}

// Comparisons returns every comparison recorded since the suite started
func (l *Local) Comparisons() []Comparison {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Comparison(nil), l.comparisons...)
}

// After writes the canonical JSON report and logs a summary
func (l *Local) After(_ context.Context) error {
	l.mu.Lock()
	report := Report{
		Session:     l.session,
		Comparisons: append([]Comparison{}, l.comparisons...),
	}
	l.mu.Unlock()

	for _, c := range report.Comparisons {
		if c.Error != "" || (c.Result != nil && !c.Result.IsWithinMisMatchTolerance) {
			report.Failed++
		}
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("failed to canonicalize report: %w", err)
	}

	if err := os.MkdirAll(l.diffDir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", l.diffDir, err)
	}
	path := filepath.Join(l.diffDir, ReportFileName)
	if err := os.WriteFile(path, append(canonical, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	l.logger.Info("visual regression report written",
		"path", path,
		"comparisons", len(report.Comparisons),
		"failed", report.Failed)
	return nil
}

// BaselineName derives a file name from the identity of a context: a
// readable slug followed by a short hash of its canonical fingerprint.
func BaselineName(sc screenshot.Context) (string, error) {
	fingerprint, err := screenshot.Fingerprint(sc)
	if err != nil {
		return "", err
	}

	parts := []string{sc.Test.Title}
	if sc.Name != "" {
		parts = append(parts, sc.Name)
	}
	parts = append(parts, string(sc.Type), sc.Browser.Name)
	if sc.Meta.HasWidth() {
		parts = append(parts, strconv.Itoa(*sc.Meta.Width))
	}
	if sc.Meta.HasOrientation() {
		parts = append(parts, string(*sc.Meta.Orientation))
	}

	return slugify(strings.Join(parts, "_")) + "_" + HashBytes(fingerprint)[:12], nil
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(b.String(), "-_")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-_")
	}
	if slug == "" {
		slug = "capture"
	}
	return slug
}
