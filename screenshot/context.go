package screenshot

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Target is one concrete image of a capture command. Width and Orientation
// are only meaningful when the matching sweep option was supplied.
type Target struct {
	Index       int
	Width       int
	Orientation Orientation
}

// Targets expands the width and orientation sweeps of opts into the ordered
// list of images a command produces. Widths form the outer loop.
func Targets(opts *Options) []Target {
	widths := []int{0}
	orientations := []Orientation{""}
	if opts != nil {
		if opts.Widths != nil {
			widths = opts.Widths
		}
		if opts.Orientations != nil {
			orientations = opts.Orientations
		}
	}

	targets := make([]Target, 0, len(widths)*len(orientations))
	for _, w := range widths {
		for _, o := range orientations {
			targets = append(targets, Target{
				Index:       len(targets),
				Width:       w,
				Orientation: o,
			})
		}
	}
	return targets
}

// BuildInput gathers everything Build needs for one target image
type BuildInput struct {
	Request      Request
	Target       Target
	Browser      Browser
	Capabilities map[string]any
	Test         Test
	URL          string
}

// Build assembles the context for one target image. It is deterministic:
// equal inputs give deep-equal contexts.
func Build(in BuildInput) Context {
	opts := in.Request.Options
	meta := Meta{URL: in.URL}

	if in.Request.Type == TypeElement {
		meta.Element = in.Request.Element
	}

	if opts != nil {
		meta.Exclude = opts.Exclude
		meta.Hide = opts.Hide
		meta.Remove = opts.Remove

		if opts.Widths != nil {
			width := in.Target.Width
			meta.Width = &width
		}
		if opts.Orientations != nil {
			orientation := in.Target.Orientation
			meta.Orientation = &orientation
		}
	}

	return Context{
		Type:                in.Request.Type,
		Name:                in.Request.Name,
		Browser:             in.Browser,
		DesiredCapabilities: cloneCapabilities(in.Capabilities),
		Test:                in.Test,
		Meta:                meta,
		Options:             opts,
	}
}

// identity is the part of a context that names a baseline image
type identity struct {
	Type        Type         `json:"type"`
	Name        string       `json:"name,omitempty"`
	Browser     string       `json:"browser"`
	Test        Test         `json:"test"`
	Element     Selectors    `json:"element,omitempty"`
	Width       *int         `json:"width,omitempty"`
	Orientation *Orientation `json:"orientation,omitempty"`
}

// Fingerprint returns the canonical JSON (RFC 8785) of the fields that
// identify which baseline a context should be compared against. The URL,
// browser version and options are left out so baselines survive upgrades.
func Fingerprint(c Context) ([]byte, error) {
	raw, err := json.Marshal(identity{
		Type:        c.Type,
		Name:        c.Name,
		Browser:     c.Browser.Name,
		Test:        c.Test,
		Element:     c.Meta.Element,
		Width:       c.Meta.Width,
		Orientation: c.Meta.Orientation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context identity: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize context identity: %w", err)
	}

	return canonical, nil
}
