package compare

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/visreg/visreg/screenshot"
)

func testLocal(t *testing.T, tolerance float64) (*Local, string) {
	t.Helper()

	root := t.TempDir()
	l := New(Options{
		BaselineDir:       filepath.Join(root, "reference"),
		ScreenDir:         filepath.Join(root, "screen"),
		DiffDir:           filepath.Join(root, "diff"),
		MisMatchTolerance: tolerance,
	})

	session, err := screenshot.NewSession(
		screenshot.Browser{Name: "chrome", Version: "120.0", UserAgent: "Mozilla/5.0"},
		map[string]any{"browserName": "chrome"},
		[]string{"specs/home.spec.js"},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := l.Before(context.Background(), session); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return l, root
}

func testContext(opts *screenshot.Options) screenshot.Context {
	return screenshot.Build(screenshot.BuildInput{
		Request: screenshot.Request{Type: screenshot.TypeDocument, Name: "home", Options: opts},
		Target:  screenshot.Targets(opts)[0],
		Browser: screenshot.Browser{Name: "chrome", Version: "120.0", UserAgent: "Mozilla/5.0"},
		Test:    screenshot.Test{Title: "renders the header", Parent: "homepage", File: "specs/home.spec.js"},
		URL:     "http://localhost:3000/",
	})
}

// uncompressedPNG encodes the same white image as testPNG with other bytes
func uncompressedPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(testPNG(t, w, h)))
	if err != nil {
		t.Fatalf("Failed to decode png: %v", err)
	}
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	if bytes.Equal(buf.Bytes(), testPNG(t, w, h)) {
		t.Fatalf("Expected a different encoding")
	}
	return buf.Bytes()
}

func encoded(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func TestLocalBeforeCreatesDirectories(t *testing.T) {
	_, root := testLocal(t, 0)
	for _, dir := range []string{"reference", "screen", "diff"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s", dir)
		}
	}
}

func TestLocalFirstScreenshotBecomesBaseline(t *testing.T) {
	l, _ := testLocal(t, 0)
	sc := testContext(nil)

	result, err := l.AfterScreenshot(context.Background(), sc, encoded(testPNG(t, 8, 8)))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result == nil || !result.IsExactSameImage || !result.IsWithinMisMatchTolerance {
		t.Errorf("Expected exact match for a new baseline, got %+v", result)
	}

	name, err := BaselineName(sc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !l.Baselines().Exists(name) {
		t.Errorf("Expected baseline %s to be stored", name)
	}

	comparisons := l.Comparisons()
	if len(comparisons) != 1 || !comparisons[0].BaselineCreated {
		t.Errorf("Expected one created baseline, got %+v", comparisons)
	}
}

func TestLocalComparesAgainstBaseline(t *testing.T) {
	tests := []struct {
		name        string
		tolerance   float64
		opts        *screenshot.Options
		current     []byte
		expectedPct float64
		within      bool
		exact       bool
		evidence    bool
	}{
		{
			name:        "Same image",
			current:     testPNG(t, 10, 10),
			expectedPct: 0,
			within:      true,
			exact:       true,
		},
		{
			name:        "Small change within tolerance",
			tolerance:   2,
			current:     testPNG(t, 10, 10, image.Pt(1, 1)),
			expectedPct: 1,
			within:      true,
		},
		{
			name:        "Change beyond tolerance",
			tolerance:   0.5,
			current:     testPNG(t, 10, 10, image.Pt(1, 1)),
			expectedPct: 1,
			within:      false,
			evidence:    true,
		},
		{
			name:        "Per capture tolerance wins",
			tolerance:   0,
			opts:        &screenshot.Options{MisMatchTolerance: floatPtr(5)},
			current:     testPNG(t, 10, 10, image.Pt(1, 1)),
			expectedPct: 1,
			within:      true,
		},
		{
			name:        "Excluded change",
			opts:        &screenshot.Options{Exclude: []screenshot.Region{{X: 0, Y: 0, Width: 2, Height: 2}}},
			current:     testPNG(t, 10, 10, image.Pt(1, 1)),
			expectedPct: 0,
			within:      true,
			exact:       true,
		},
		{
			name:        "Same pixels encoded differently",
			current:     uncompressedPNG(t, 10, 10),
			expectedPct: 0,
			within:      true,
			exact:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, root := testLocal(t, tt.tolerance)
			sc := testContext(tt.opts)

			if _, err := l.AfterScreenshot(context.Background(), sc, encoded(testPNG(t, 10, 10))); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			result, err := l.AfterScreenshot(context.Background(), sc, encoded(tt.current))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if result.MisMatchPercentage != tt.expectedPct {
				t.Errorf("Expected %.2f%%, got %.2f%%", tt.expectedPct, result.MisMatchPercentage)
			}
			if result.IsWithinMisMatchTolerance != tt.within {
				t.Errorf("Expected within tolerance %v, got %v", tt.within, result.IsWithinMisMatchTolerance)
			}
			if result.IsExactSameImage != tt.exact {
				t.Errorf("Expected exact %v, got %v", tt.exact, result.IsExactSameImage)
			}
			if !result.IsSameDimensions {
				t.Errorf("Expected same dimensions")
			}

			name, _ := BaselineName(sc)
			hasScreen := NewStore(filepath.Join(root, "screen")).Exists(name)
			hasDiff := NewStore(filepath.Join(root, "diff")).Exists(name)
			if hasScreen != tt.evidence || hasDiff != tt.evidence {
				t.Errorf("Expected evidence %v, got screen=%v diff=%v", tt.evidence, hasScreen, hasDiff)
			}
		})
	}
}

func TestLocalAbsentImage(t *testing.T) {
	l, _ := testLocal(t, 0)

	result, err := l.AfterScreenshot(context.Background(), testContext(nil), "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("Expected no result for an absent image, got %+v", result)
	}
}

func TestLocalInvalidImage(t *testing.T) {
	l, _ := testLocal(t, 0)

	if _, err := l.AfterScreenshot(context.Background(), testContext(nil), "%%%"); err == nil {
		t.Errorf("Expected error for invalid base64")
	}
	comparisons := l.Comparisons()
	if len(comparisons) != 1 || comparisons[0].Error == "" {
		t.Errorf("Expected the failure to be recorded, got %+v", comparisons)
	}
}

func TestLocalAfterWritesReport(t *testing.T) {
	l, root := testLocal(t, 0)
	sc := testContext(nil)

	for _, img := range [][]byte{testPNG(t, 10, 10), testPNG(t, 10, 10, image.Pt(0, 0))} {
		if _, err := l.AfterScreenshot(context.Background(), sc, encoded(img)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if err := l.After(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	//nolint:gosec // G304: test file
	raw, err := os.ReadFile(filepath.Join(root, "diff", ReportFileName))
	if err != nil {
		t.Fatalf("Expected report: %v", err)
	}

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("Expected JSON report: %v", err)
	}
	if len(report.Comparisons) != 2 || report.Failed != 1 {
		t.Errorf("Expected 2 comparisons with 1 failure, got %+v", report)
	}
	if report.Session == nil || report.Session.Browser.Name != "chrome" {
		t.Errorf("Expected session in report, got %+v", report.Session)
	}
	if !strings.HasPrefix(string(raw), `{"comparisons":[`) {
		t.Errorf("Expected canonical key order, got %s", raw[:40])
	}
}

func TestBaselineName(t *testing.T) {
	width := 320
	orientation := screenshot.OrientationPortrait
	sc := testContext(nil)
	sc.Meta.Width = &width
	sc.Meta.Orientation = &orientation

	name, err := BaselineName(sc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.HasPrefix(name, "renders-the-header_home_document_chrome_320_portrait_") {
		t.Errorf("Unexpected name %s", name)
	}
	if len(name) != len("renders-the-header_home_document_chrome_320_portrait_")+12 {
		t.Errorf("Expected a 12 character hash suffix, got %s", name)
	}

	other := testContext(nil)
	otherName, _ := BaselineName(other)
	if otherName == name {
		t.Errorf("Different targets must not share a baseline")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Renders the Header!", "renders-the-header"},
		{"", "capture"},
		{"***", "capture"},
		{"a__b", "a__b"},
		{strings.Repeat("x", 100), strings.Repeat("x", 80)},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.expected {
			t.Errorf("slugify(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func floatPtr(f float64) *float64 {
	return &f
}
