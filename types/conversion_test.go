package types //nolint:revive // types is a valid package name

import "testing"

func TestParseFramework(t *testing.T) {
	tests := []struct {
		in      string
		want    Framework
		wantErr bool
	}{
		{"html", FrameworkHTML, false},
		{"React", FrameworkReact, false},
		{" vue ", FrameworkVue, false},
		{"tailwind", FrameworkTailwind, false},
		{"svelte", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFramework(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFramework(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFramework(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConvertResponse_ResultFillsMissingMetadata(t *testing.T) {
	resp := &ConvertResponse{Success: true, HTML: "<div></div>", CSS: "div{}"}
	opts := ConvertOptions{Framework: FrameworkVue}

	result := resp.Result(opts)

	if result.Metadata.Framework != FrameworkVue {
		t.Errorf("Framework = %q, want %q", result.Metadata.Framework, FrameworkVue)
	}
	if result.Metadata.Responsive || result.Metadata.Semantic || result.Metadata.Accessibility {
		t.Errorf("flags should echo request options (all false), got %+v", result.Metadata)
	}
	if result.Components == nil {
		t.Error("Components should be an empty slice, not nil")
	}
}

func TestConvertResponse_ResultKeepsBackendMetadata(t *testing.T) {
	resp := &ConvertResponse{
		Success:  true,
		Metadata: &ConversionMetadata{Framework: FrameworkReact, Responsive: true},
	}

	result := resp.Result(ConvertOptions{Framework: FrameworkHTML})

	if result.Metadata.Framework != FrameworkReact {
		t.Errorf("Framework = %q, want backend value %q", result.Metadata.Framework, FrameworkReact)
	}
	if !result.Metadata.Responsive {
		t.Error("Responsive should come from backend metadata")
	}
}
