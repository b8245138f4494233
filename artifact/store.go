package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/psdweb/types"
)

// DefaultDataset is the dataset conversions and history are written under.
const DefaultDataset = "conversions"

// Artifact file names.
const (
	FileHTML       = "index.html"
	FileCSS        = "styles.css"
	FileComponents = "components.json"
	FileValidation = "validation.json"
	FilePreview    = "preview.html"
)

// DeriveDay computes the partition day (YYYY-MM-DD, UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Partition locates one run's files.
type Partition struct {
	Dataset   string
	Framework types.Framework
	Day       string
	RunID     string
}

// Prefix returns the Hive-partitioned directory of the run's files.
// Format: <dataset>/framework=<f>/day=<d>/run_id=<r>/files
func (p Partition) Prefix() string {
	dataset := p.Dataset
	if dataset == "" {
		dataset = DefaultDataset
	}
	return fmt.Sprintf("%s/framework=%s/day=%s/run_id=%s/files", dataset, p.Framework, p.Day, p.RunID)
}

func (p Partition) validate() error {
	switch {
	case p.Framework == "":
		return errors.New("partition requires a framework")
	case p.Day == "":
		return errors.New("partition requires a day")
	case p.RunID == "":
		return errors.New("partition requires a run id")
	}
	return nil
}

// Bundle is everything one conversion run persists.
type Bundle struct {
	Conversion *types.ConversionResult
	// Validation is optional.
	Validation *types.ValidationReport
}

// File is one rendered artifact.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Files renders the bundle into artifact files in a stable order.
func (b Bundle) Files() ([]File, error) {
	if b.Conversion == nil {
		return nil, errors.New("bundle has no conversion")
	}
	conv := b.Conversion

	components := conv.Components
	if components == nil {
		components = []types.Component{}
	}
	compJSON, err := json.MarshalIndent(struct {
		Components []types.Component        `json:"components"`
		Metadata   types.ConversionMetadata `json:"metadata"`
	}{components, conv.Metadata}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode components: %w", err)
	}

	files := []File{
		{Name: FileHTML, ContentType: "text/html; charset=utf-8", Data: []byte(conv.HTML)},
		{Name: FileCSS, ContentType: "text/css; charset=utf-8", Data: []byte(conv.CSS)},
		{Name: FileComponents, ContentType: "application/json", Data: compJSON},
	}
	if b.Validation != nil {
		report, err := json.MarshalIndent(b.Validation, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode validation: %w", err)
		}
		files = append(files, File{Name: FileValidation, ContentType: "application/json", Data: report})
	}
	files = append(files, File{Name: FilePreview, ContentType: "text/html; charset=utf-8", Data: Preview(conv)})
	return files, nil
}

// Preview renders a standalone page with the CSS inlined.
func Preview(conv *types.ConversionResult) []byte {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&buf, "<title>%s preview</title>\n", html.EscapeString(string(conv.Metadata.Framework)))
	buf.WriteString("<style>\n")
	// A literal </style> in the CSS would end the element early.
	buf.WriteString(strings.ReplaceAll(conv.CSS, "</style", "<\\/style"))
	buf.WriteString("\n</style>\n</head>\n<body>\n")
	buf.WriteString(conv.HTML)
	buf.WriteString("\n</body>\n</html>\n")
	return buf.Bytes()
}

// Writer persists conversion bundles.
type Writer interface {
	// WriteBundle stores the bundle's files and returns their paths.
	WriteBundle(ctx context.Context, p Partition, b Bundle) ([]string, error)
}

// Store writes artifact files to a lode store.
type Store struct {
	factory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewStore creates a store over factory. The underlying lode store is
// created on first use.
func NewStore(factory lode.StoreFactory) (*Store, error) {
	if factory == nil {
		return nil, errors.New("artifact store requires a store factory")
	}
	return &Store{factory: factory}, nil
}

// WriteBundle implements Writer. Files are written in order; the first
// failure stops the write and is returned classified.
func (s *Store) WriteBundle(ctx context.Context, p Partition, b Bundle) ([]string, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	files, err := b.Files()
	if err != nil {
		return nil, err
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, wrap("init", p.Prefix(), err)
	}

	prefix := p.Prefix()
	paths := make([]string, 0, len(files))
	for _, f := range files {
		full := path.Join(prefix, f.Name)
		if err := store.Put(ctx, full, bytes.NewReader(f.Data)); err != nil {
			return paths, wrap("write", full, err)
		}
		paths = append(paths, full)
	}
	return paths, nil
}

// ReadFile returns one stored artifact.
func (s *Store) ReadFile(ctx context.Context, p Partition, name string) ([]byte, error) {
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, wrap("init", p.Prefix(), err)
	}
	full := path.Join(p.Prefix(), name)
	rc, err := store.Get(ctx, full)
	if err != nil {
		return nil, wrap("read", full, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrap("read", full, err)
	}
	return data, nil
}

func (s *Store) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}

// Verify Store implements Writer.
var _ Writer = (*Store)(nil)

// StubWriter records bundles for testing.
type StubWriter struct {
	mu      sync.Mutex
	Bundles []StubBundle
	// Err, when set, is returned by every write.
	Err error
}

// StubBundle is a recorded write.
type StubBundle struct {
	Partition Partition
	Bundle    Bundle
}

// WriteBundle implements Writer by recording the call.
func (w *StubWriter) WriteBundle(_ context.Context, p Partition, b Bundle) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	w.Bundles = append(w.Bundles, StubBundle{Partition: p, Bundle: b})
	files, err := b.Files()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = path.Join(p.Prefix(), f.Name)
	}
	return paths, nil
}

// Verify StubWriter implements Writer.
var _ Writer = (*StubWriter)(nil)
