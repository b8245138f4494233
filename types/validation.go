package types

import (
	"encoding/json"
	"fmt"
)

// DefaultThreshold is the similarity a conversion must reach to pass.
const DefaultThreshold = 0.95

// ValidateOptions configure the fidelity check.
type ValidateOptions struct {
	Threshold        float64 `yaml:"threshold"`
	IncludeDiffImage bool    `yaml:"include_diff_image"`
}

// Validate checks that the threshold is a fraction.
func (o ValidateOptions) Validate() error {
	if o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %v", o.Threshold)
	}
	return nil
}

// ValidateRequest is the body of POST /api/validate-psd.
type ValidateRequest struct {
	PSDData          json.RawMessage `json:"psdData"`
	HTMLContent      string          `json:"htmlContent"`
	CSSContent       string          `json:"cssContent"`
	Threshold        float64         `json:"threshold"`
	IncludeDiffImage bool            `json:"includeDiffImage,omitempty"`
}

// ValidationReport is the fidelity report produced by validate-psd.
type ValidationReport struct {
	Similarity      float64  `json:"similarity"`
	Differences     int64    `json:"differences"`
	TotalPixels     int64    `json:"totalPixels"`
	Passed          bool     `json:"passed"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	DiffImageURL    string   `json:"diffImageUrl,omitempty"`
}

// ValidateResponse is the reply to validate-psd.
type ValidateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	ValidationReport
}
