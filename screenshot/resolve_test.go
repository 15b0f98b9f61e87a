package screenshot

import (
	"errors"
	"strings"
	"testing"
)

func floatPtr(f float64) *float64 {
	return &f
}

func intPtr(i int) *int {
	return &i
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		req         Request
		expectError bool
		field       string
		tag         string
	}{
		{
			name: "Document without options",
			req:  Request{Type: TypeDocument, Name: "test"},
		},
		{
			name: "Viewport with empty options",
			req:  Request{Type: TypeViewport, Options: &Options{}},
		},
		{
			name: "Element with single selector",
			req:  Request{Type: TypeElement, Element: Selectors{".header"}},
		},
		{
			name: "Element with several selectors",
			req:  Request{Type: TypeElement, Element: Selectors{".header", ".footer"}},
		},
		{
			name: "Full sweep",
			req: Request{Type: TypeDocument, Options: &Options{
				Widths:            []int{320, 1024},
				Orientations:      []Orientation{OrientationLandscape, OrientationPortrait},
				Exclude:           []Region{{Selector: ".ad"}, {X: 0, Y: 0, Width: 10, Height: 10}},
				Hide:              []string{".clock"},
				Remove:            []string{".banner"},
				MisMatchTolerance: floatPtr(0.5),
			}},
		},
		{
			name:        "Unknown type",
			req:         Request{Type: "page"},
			expectError: true,
			field:       "type",
			tag:         "oneof",
		},
		{
			name:        "Missing type",
			req:         Request{},
			expectError: true,
			field:       "type",
			tag:         "required",
		},
		{
			name:        "Element without selector",
			req:         Request{Type: TypeElement},
			expectError: true,
			field:       "element",
			tag:         "required",
		},
		{
			name:        "Element with empty selector list",
			req:         Request{Type: TypeElement, Element: Selectors{}},
			expectError: true,
			field:       "element",
			tag:         "required",
		},
		{
			name:        "Element with blank selector",
			req:         Request{Type: TypeElement, Element: Selectors{".a", ""}},
			expectError: true,
			field:       "element[1]",
			tag:         "required",
		},
		{
			name:        "Selector on document capture",
			req:         Request{Type: TypeDocument, Element: Selectors{".a"}},
			expectError: true,
			field:       "element",
			tag:         "excluded",
		},
		{
			name:        "Empty widths",
			req:         Request{Type: TypeDocument, Options: &Options{Widths: []int{}}},
			expectError: true,
			field:       "options.widths",
			tag:         "min",
		},
		{
			name:        "Zero width",
			req:         Request{Type: TypeViewport, Options: &Options{Widths: []int{320, 0}}},
			expectError: true,
			field:       "options.widths[1]",
			tag:         "gt",
		},
		{
			name:        "Empty orientations",
			req:         Request{Type: TypeDocument, Options: &Options{Orientations: []Orientation{}}},
			expectError: true,
			field:       "options.orientations",
			tag:         "min",
		},
		{
			name:        "Invalid orientation",
			req:         Request{Type: TypeDocument, Options: &Options{Orientations: []Orientation{"sideways"}}},
			expectError: true,
			field:       "options.orientations[0]",
			tag:         "oneof",
		},
		{
			name:        "Tolerance above 100",
			req:         Request{Type: TypeDocument, Options: &Options{MisMatchTolerance: floatPtr(101)}},
			expectError: true,
			field:       "options.misMatchTolerance",
			tag:         "lte",
		},
		{
			name:        "Negative pause",
			req:         Request{Type: TypeDocument, Options: &Options{ViewportChangePause: intPtr(-1)}},
			expectError: true,
			field:       "options.viewportChangePause",
			tag:         "gte",
		},
		{
			name:        "Exclude region without selector or size",
			req:         Request{Type: TypeDocument, Options: &Options{Exclude: []Region{{X: 5}}}},
			expectError: true,
			field:       "options.exclude[0].selector",
			tag:         "region",
		},
		{
			name:        "Blank hide selector",
			req:         Request{Type: TypeDocument, Options: &Options{Hide: []string{""}}},
			expectError: true,
			field:       "options.hide[0]",
			tag:         "required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.req)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !errors.Is(err, ErrValidation) {
					t.Errorf("Expected ErrValidation, got %v", err)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("Expected *ValidationError, got %T", err)
				}
				if ve.Field != tt.field {
					t.Errorf("Expected field %q, got %q", tt.field, ve.Field)
				}
				if ve.Tag != tt.tag {
					t.Errorf("Expected tag %q, got %q", tt.tag, ve.Tag)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.Options != tt.req.Options {
				t.Errorf("Resolve must not replace the options pointer")
			}
		})
	}
}

func TestResolveErrorMessages(t *testing.T) {
	_, err := Resolve(Request{Type: TypeElement})
	if err == nil || !strings.Contains(err.Error(), "requires at least one selector") {
		t.Errorf("Expected selector message, got %v", err)
	}

	_, err = Resolve(Request{Type: TypeViewport, Options: &Options{Orientations: []Orientation{"up"}}})
	if err == nil || !strings.Contains(err.Error(), "landscape portrait") {
		t.Errorf("Expected oneof message, got %v", err)
	}
}

func TestValidateBrowser(t *testing.T) {
	tests := []struct {
		name        string
		browser     Browser
		expectError bool
		field       string
	}{
		{"Complete", Browser{Name: "chrome", Version: "120.0", UserAgent: "Mozilla/5.0"}, false, ""},
		{"Missing name", Browser{Version: "120.0", UserAgent: "Mozilla/5.0"}, true, "name"},
		{"Missing version", Browser{Name: "chrome", UserAgent: "Mozilla/5.0"}, true, "version"},
		{"Missing user agent", Browser{Name: "chrome", Version: "120.0"}, true, "userAgent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBrowser(tt.browser)
			if !tt.expectError {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected *ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}
