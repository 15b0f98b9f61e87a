// Package screenshot describes a single capture request and the context
// handed to comparator hooks around it.
package screenshot

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Type identifies which capture variant produced a context
type Type string

const (
	TypeDocument Type = "document"
	TypeElement  Type = "element"
	TypeViewport Type = "viewport"
)

// Orientation of the emulated device for a single target image
type Orientation string

const (
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
)

// Selectors holds one or more CSS selectors. A single selector is encoded as
// a JSON string, several as an array.
type Selectors []string

// MarshalJSON keeps the single-selector form a plain string
func (s Selectors) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON accepts either a string or an array of strings
func (s *Selectors) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = Selectors{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("element must be a string or an array of strings: %w", err)
	}
	*s = many
	return nil
}

// Region is an area ignored by the comparison, given either as a selector
// or as a rectangle. Selectors are masked in the page by the driver.
// Rectangles are in screenshot image pixels, which only match CSS pixels at
// a device pixel ratio of 1.
type Region struct {
	Selector string `json:"selector,omitempty"`
	X        int    `json:"x,omitempty" validate:"gte=0"`
	Y        int    `json:"y,omitempty" validate:"gte=0"`
	Width    int    `json:"width,omitempty" validate:"gte=0"`
	Height   int    `json:"height,omitempty" validate:"gte=0"`
}

// IsRect reports whether the region carries a usable rectangle
func (r Region) IsRect() bool {
	return r.Width > 0 && r.Height > 0
}

// Options are the caller supplied capture options. A nil field means the
// option was not supplied; contexts forward the caller's pointer untouched.
type Options struct {
	Exclude             []Region      `json:"exclude,omitempty" validate:"omitnil,dive"`
	Hide                []string      `json:"hide,omitempty" validate:"omitnil,dive,required"`
	Remove              []string      `json:"remove,omitempty" validate:"omitnil,dive,required"`
	Widths              []int         `json:"widths,omitempty" validate:"omitnil,min=1,dive,gt=0"`
	Orientations        []Orientation `json:"orientations,omitempty" validate:"omitnil,min=1,dive,oneof=landscape portrait"`
	MisMatchTolerance   *float64      `json:"misMatchTolerance,omitempty" validate:"omitnil,gte=0,lte=100"`
	ViewportChangePause *int          `json:"viewportChangePause,omitempty" validate:"omitnil,gte=0"`
}

// Request is a capture command as issued by a test
type Request struct {
	Type    Type      `json:"type" validate:"required,oneof=document element viewport"`
	Name    string    `json:"name,omitempty" validate:"max=256"`
	Element Selectors `json:"element,omitempty" validate:"omitnil,dive,required"`
	Options *Options  `json:"options,omitempty"`
}

// Browser identifies the browser driving the session
type Browser struct {
	Name      string `json:"name" validate:"required"`
	Version   string `json:"version" validate:"required"`
	UserAgent string `json:"userAgent" validate:"required"`
}

// Test identifies the test that issued a capture
type Test struct {
	Title  string `json:"title"`
	Parent string `json:"parent"`
	File   string `json:"file"`
}

// Meta carries capture specific metadata. Every optional field is set if and
// only if the matching option was supplied.
type Meta struct {
	URL         string       `json:"url"`
	Element     Selectors    `json:"element,omitempty"`
	Exclude     []Region     `json:"exclude,omitempty"`
	Hide        []string     `json:"hide,omitempty"`
	Remove      []string     `json:"remove,omitempty"`
	Width       *int         `json:"width,omitempty"`
	Orientation *Orientation `json:"orientation,omitempty"`
}

func (m Meta) HasElement() bool     { return m.Element != nil }
func (m Meta) HasExclude() bool     { return m.Exclude != nil }
func (m Meta) HasHide() bool        { return m.Hide != nil }
func (m Meta) HasRemove() bool      { return m.Remove != nil }
func (m Meta) HasWidth() bool       { return m.Width != nil }
func (m Meta) HasOrientation() bool { return m.Orientation != nil }

// Context is built fresh for every target image and must not be modified by
// hooks. Slices and the Options pointer are shared with the caller's request.
type Context struct {
	Type                Type           `json:"type"`
	Name                string         `json:"name,omitempty"`
	Browser             Browser        `json:"browser"`
	DesiredCapabilities map[string]any `json:"desiredCapabilities"`
	Test                Test           `json:"test"`
	Meta                Meta           `json:"meta"`
	Options             *Options       `json:"options"`
}

// Session is the suite level context handed to the before hook
type Session struct {
	Browser             Browser        `json:"browser"`
	DesiredCapabilities map[string]any `json:"desiredCapabilities"`
	Specs               []string       `json:"specs"`
}

// NewSession validates the browser metadata and copies capabilities and specs
func NewSession(browser Browser, capabilities map[string]any, specs []string) (Session, error) {
	if err := ValidateBrowser(browser); err != nil {
		return Session{}, err
	}

	copied := make([]string, len(specs))
	copy(copied, specs)

	return Session{
		Browser:             browser,
		DesiredCapabilities: cloneCapabilities(capabilities),
		Specs:               copied,
	}, nil
}

// Result is produced by a comparator for one target image. A nil *Result
// means no comparison was performed.
type Result struct {
	MisMatchPercentage        float64 `json:"misMatchPercentage"`
	IsWithinMisMatchTolerance bool    `json:"isWithinMisMatchTolerance"`
	IsSameDimensions          bool    `json:"isSameDimensions"`
	IsExactSameImage          bool    `json:"isExactSameImage"`
}

// cloneCapabilities never returns nil so that session and per-capture copies
// stay deep-equal
func cloneCapabilities(capabilities map[string]any) map[string]any {
	if capabilities == nil {
		return map[string]any{}
	}
	return maps.Clone(capabilities)
}
