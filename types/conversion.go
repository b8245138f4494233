package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Framework is the target output flavor of a conversion.
type Framework string

// Supported frameworks. The set is closed.
const (
	FrameworkHTML     Framework = "html"
	FrameworkReact    Framework = "react"
	FrameworkVue      Framework = "vue"
	FrameworkTailwind Framework = "tailwind"
)

// Frameworks lists every supported framework in display order.
func Frameworks() []Framework {
	return []Framework{FrameworkHTML, FrameworkReact, FrameworkVue, FrameworkTailwind}
}

// ParseFramework parses a framework name, case-insensitively.
func ParseFramework(s string) (Framework, error) {
	f := Framework(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Frameworks() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid framework: %q (must be html, react, vue, or tailwind)", s)
}

// ConvertOptions are the independently toggled conversion settings.
// They are passed through to the backend unchanged.
type ConvertOptions struct {
	Framework     Framework `json:"targetFramework" yaml:"framework"`
	Responsive    bool      `json:"responsive" yaml:"responsive"`
	Semantic      bool      `json:"semantic" yaml:"semantic"`
	Accessibility bool      `json:"accessibility" yaml:"accessibility"`
}

// DefaultConvertOptions returns the options used when nothing is configured.
func DefaultConvertOptions() ConvertOptions {
	return ConvertOptions{
		Framework:     FrameworkHTML,
		Responsive:    true,
		Semantic:      true,
		Accessibility: true,
	}
}

// ConvertRequest is the body of POST /api/convert-psd.
type ConvertRequest struct {
	PSDData       json.RawMessage `json:"psdData"`
	Framework     Framework       `json:"targetFramework"`
	Responsive    bool            `json:"responsive"`
	Semantic      bool            `json:"semantic"`
	Accessibility bool            `json:"accessibility"`
}

// Component describes one generated component.
type Component struct {
	Name    string   `json:"name"`
	Type    string   `json:"type,omitempty"`
	LayerID string   `json:"layerId,omitempty"`
	Props   []string `json:"props,omitempty"`
}

// ConversionMetadata echoes the settings a conversion ran with.
type ConversionMetadata struct {
	Framework     Framework `json:"framework"`
	Responsive    bool      `json:"responsive"`
	Semantic      bool      `json:"semantic"`
	Accessibility bool      `json:"accessibility"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// ConversionResult is the artifact produced by convert-psd.
type ConversionResult struct {
	HTML       string             `json:"html"`
	CSS        string             `json:"css"`
	Components []Component        `json:"components"`
	Metadata   ConversionMetadata `json:"metadata"`
}

// ConvertResponse is the reply to convert-psd.
type ConvertResponse struct {
	Success    bool                `json:"success"`
	HTML       string              `json:"html"`
	CSS        string              `json:"css"`
	Components []Component         `json:"components"`
	Metadata   *ConversionMetadata `json:"metadata,omitempty"`
	Error      string              `json:"error,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// Result converts a successful response into a ConversionResult.
// Metadata missing from the response is filled from the request options.
func (r *ConvertResponse) Result(opts ConvertOptions) *ConversionResult {
	result := &ConversionResult{
		HTML:       r.HTML,
		CSS:        r.CSS,
		Components: r.Components,
	}
	if r.Metadata != nil {
		result.Metadata = *r.Metadata
	} else {
		result.Metadata = ConversionMetadata{
			Responsive:    opts.Responsive,
			Semantic:      opts.Semantic,
			Accessibility: opts.Accessibility,
		}
	}
	if result.Metadata.Framework == "" {
		result.Metadata.Framework = opts.Framework
	}
	if result.Components == nil {
		result.Components = []Component{}
	}
	return result
}
