package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/pithecene-io/psdweb/types"
)

// Engine produces conversions and fidelity reports for the convert and
// validate endpoints. The real generator and pixel-diff validator live
// outside this module; StubEngine stands in for them.
type Engine interface {
	Convert(ctx context.Context, doc *types.ParsedDocument, opts types.ConvertOptions) (*types.ConversionResult, error)
	Validate(ctx context.Context, doc *types.ParsedDocument, html, css string, opts types.ValidateOptions) (*types.ValidationReport, error)
}

// StubEngine generates deterministic placeholder markup from the layer tree
// and scores it by how many visible layers the markup references.
type StubEngine struct {
	// Now overrides the generation timestamp, for tests.
	Now func() time.Time
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// className derives a stable CSS class for a layer.
func className(l types.Layer, i int) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(l.Name), "-"), "-")
	if slug == "" {
		slug = "layer"
	}
	return fmt.Sprintf("psd-%s-%d", slug, i)
}

type flatLayer struct {
	layer types.Layer
	class string
	depth int
}

func flatten(layers []types.Layer) []flatLayer {
	var out []flatLayer
	var walk func(ls []types.Layer, depth int)
	walk = func(ls []types.Layer, depth int) {
		for _, l := range ls {
			if !l.Visible {
				continue
			}
			out = append(out, flatLayer{layer: l, class: className(l, len(out)), depth: depth})
			walk(l.Children, depth+1)
		}
	}
	walk(layers, 0)
	return out
}

// Convert renders the visible layers as absolutely positioned boxes.
func (e StubEngine) Convert(_ context.Context, doc *types.ParsedDocument, opts types.ConvertOptions) (*types.ConversionResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	layers := flatten(doc.Layers)
	root := "div"
	if opts.Semantic {
		root = "main"
	}
	classAttr := "class"
	if opts.Framework == types.FrameworkReact {
		classAttr = "className"
	}

	var body strings.Builder
	for _, fl := range layers {
		tag := "div"
		attrs := ""
		switch fl.layer.Type {
		case "text":
			if opts.Semantic {
				tag = "p"
			}
			if opts.Accessibility {
				attrs = fmt.Sprintf(` aria-label=%q`, fl.layer.Name)
			}
		case "image":
			if opts.Accessibility {
				attrs = fmt.Sprintf(` role="img" aria-label=%q`, fl.layer.Name)
			}
		case "group":
			if opts.Semantic {
				tag = "section"
			}
		}
		fmt.Fprintf(&body, "%s<%s %s=\"%s\"%s></%s>\n",
			strings.Repeat("  ", fl.depth+1), tag, classAttr, e.classes(fl, opts), attrs, tag)
	}

	markup := fmt.Sprintf("<%s %s=\"psd-root\">\n%s</%s>", root, classAttr, body.String(), root)
	var html string
	switch opts.Framework {
	case types.FrameworkReact:
		html = "export default function Design() {\n  return (\n" + markup + "\n  );\n}\n"
	case types.FrameworkVue:
		html = "<template>\n" + markup + "\n</template>\n"
	default:
		html = markup + "\n"
	}

	components := []types.Component{}
	for _, l := range doc.Layers {
		if l.Visible && l.Type == "group" {
			components = append(components, types.Component{
				Name:    componentName(l.Name),
				Type:    "group",
				LayerID: l.ID,
			})
		}
	}

	return &types.ConversionResult{
		HTML:       html,
		CSS:        e.css(doc, layers, opts),
		Components: components,
		Metadata: types.ConversionMetadata{
			Framework:     opts.Framework,
			Responsive:    opts.Responsive,
			Semantic:      opts.Semantic,
			Accessibility: opts.Accessibility,
			GeneratedAt:   now().UTC(),
		},
	}, nil
}

func (e StubEngine) classes(fl flatLayer, opts types.ConvertOptions) string {
	if opts.Framework != types.FrameworkTailwind {
		return fl.class
	}
	b := fl.layer.Bounds
	return fmt.Sprintf("%s absolute left-[%dpx] top-[%dpx] w-[%dpx] h-[%dpx]",
		fl.class, b.Left, b.Top, b.Width, b.Height)
}

func (e StubEngine) css(doc *types.ParsedDocument, layers []flatLayer, opts types.ConvertOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, ".psd-root { position: relative; width: %dpx; height: %dpx; }\n", doc.Width, doc.Height)
	if opts.Framework == types.FrameworkTailwind {
		return b.String()
	}
	for _, fl := range layers {
		lb := fl.layer.Bounds
		fmt.Fprintf(&b, ".%s { position: absolute; left: %dpx; top: %dpx; width: %dpx; height: %dpx;",
			fl.class, lb.Left, lb.Top, lb.Width, lb.Height)
		if fl.layer.Opacity > 0 && fl.layer.Opacity < 1 {
			fmt.Fprintf(&b, " opacity: %.2f;", fl.layer.Opacity)
		}
		b.WriteString(" }\n")
	}
	if opts.Responsive && doc.Width > 0 {
		fmt.Fprintf(&b, "@media (max-width: %dpx) {\n  .psd-root { width: 100%%; height: auto; aspect-ratio: %d / %d; }\n}\n",
			doc.Width, doc.Width, max(doc.Height, 1))
	}
	return b.String()
}

func componentName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9')
	})
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	if b.Len() == 0 {
		return "Group"
	}
	return b.String()
}

// Validate scores the markup by the fraction of visible layers whose class
// appears in it. A document without layers scores 1 when markup exists.
func (e StubEngine) Validate(_ context.Context, doc *types.ParsedDocument, html, css string, opts types.ValidateOptions) (*types.ValidationReport, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("html content is empty")
	}

	layers := flatten(doc.Layers)
	total := int64(doc.Width) * int64(doc.Height)
	report := &types.ValidationReport{
		TotalPixels:     total,
		Issues:          []string{},
		Recommendations: []string{},
	}

	var missingArea, layerArea int64
	for _, fl := range layers {
		area := int64(fl.layer.Bounds.Width) * int64(fl.layer.Bounds.Height)
		layerArea += area
		if !strings.Contains(html, fl.class) && !strings.Contains(css, fl.class) {
			missingArea += area
			report.Issues = append(report.Issues, fmt.Sprintf("layer %q not found in output", fl.layer.Name))
		}
	}

	report.Similarity = 1
	if layerArea > 0 {
		report.Similarity = 1 - float64(missingArea)/float64(layerArea)
	} else if len(report.Issues) > 0 {
		report.Similarity = 1 - float64(len(report.Issues))/float64(len(layers))
	}
	report.Differences = int64(math.Round((1 - report.Similarity) * float64(total)))
	report.Passed = report.Similarity >= opts.Threshold
	if !report.Passed {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("similarity %.3f is below threshold %.3f; review the layers listed in issues", report.Similarity, opts.Threshold))
	}
	return report, nil
}

// decodeDocument accepts psdData as either an object or a JSON string.
func decodeDocument(raw json.RawMessage) (*types.ParsedDocument, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	return types.DecodeDocument(raw)
}

// Verify StubEngine implements Engine.
var _ Engine = StubEngine{}
