// Package pipeline orchestrates upload, parse, convert and validate against
// a backend.
//
// Each step returns a Result; the orchestrator moves to Errored on the first
// failed step except validation, which is best-effort: a failed or
// unreadable validation still completes the run without a report. Nothing
// is retried automatically. The last input and settings are kept so a
// caller can Retry after an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/psdweb/api"
	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/types"
	"github.com/pithecene-io/psdweb/upload"
)

// Backend is the remote side of the pipeline. *api.Client implements it.
type Backend interface {
	upload.Transport
	Parse(ctx context.Context, req types.ParseRequest) (*types.ParsedDocument, error)
	Convert(ctx context.Context, doc *types.ParsedDocument, opts types.ConvertOptions) (*types.ConversionResult, error)
	Validate(ctx context.Context, doc *types.ParsedDocument, conv *types.ConversionResult, opts types.ValidateOptions) (*types.ValidationReport, error)
}

// UploadMode selects how the document reaches the backend.
type UploadMode string

// Upload modes.
const (
	// ModeAuto picks inline up to the inline limit, chunked above it.
	ModeAuto UploadMode = "auto"
	// ModeInline sends the file as a data URL to parse-psd.
	ModeInline UploadMode = "inline"
	// ModeChunked uses the chunked upload session protocol.
	ModeChunked UploadMode = "chunked"
	// ModePath passes a path the backend can read itself.
	ModePath UploadMode = "path"
)

// ParseUploadMode parses a mode name. Empty selects ModeAuto.
func ParseUploadMode(s string) (UploadMode, error) {
	switch m := UploadMode(s); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeInline, ModeChunked, ModePath:
		return m, nil
	default:
		return "", fmt.Errorf("invalid upload mode: %q (must be auto, inline, chunked, or path)", s)
	}
}

// DefaultInlineLimit keeps a base64 data URL under a 4.5 MB body limit.
const DefaultInlineLimit int64 = 3 << 20

// Input is the document a run operates on.
type Input struct {
	FileName string
	// Data is the file content; unused in ModePath.
	Data []byte
	// Path is what ModePath sends as filePath.
	Path string
}

// Settings are the per-run options.
type Settings struct {
	Mode        UploadMode
	ChunkSize   int
	InlineLimit int64
	// IncludeImageData asks parse-psd to return layer bitmaps.
	IncludeImageData bool
	Convert          types.ConvertOptions
	// Validate enables the fidelity check; when false the stage is skipped.
	Validate   bool
	Validation types.ValidateOptions
}

// DefaultSettings returns settings with every option at its default.
func DefaultSettings() Settings {
	return Settings{
		Mode:        ModeAuto,
		ChunkSize:   upload.DefaultChunkSize,
		InlineLimit: DefaultInlineLimit,
		Convert:     types.DefaultConvertOptions(),
		Validate:    true,
		Validation:  types.ValidateOptions{Threshold: types.DefaultThreshold},
	}
}

// Progress is one observer update.
type Progress struct {
	Stage   State
	Percent int
	Message string
}

// Observer receives state and progress updates on the running goroutine.
type Observer func(Progress)

// Outcome summarizes one run.
type Outcome struct {
	RunID      string
	State      State
	Mode       UploadMode
	Document   *types.ParsedDocument
	Upload     *types.UploadResult
	Conversion *types.ConversionResult
	// Validation is nil when validation was disabled or failed.
	Validation *types.ValidationReport
	// ValidationErr is the swallowed validation failure, if any.
	ValidationErr  error
	Err            error
	Duration       time.Duration
	StageDurations map[State]time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers a progress observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithCollector records run counters into c.
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRunID labels outcomes and logs.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// Orchestrator runs the pipeline against one Backend.
// Runs are serialized; State may be read concurrently.
type Orchestrator struct {
	backend   Backend
	observer  Observer
	collector *metrics.Collector
	logger    *log.Logger
	runID     string

	runMu sync.Mutex

	mu       sync.Mutex
	state    State
	percent  int
	input    *Input
	settings Settings
}

// New creates an orchestrator. The backend is required.
func New(backend Backend, opts ...Option) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("pipeline requires a backend")
	}
	o := &Orchestrator{
		backend: backend,
		logger:  log.Nop(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Selected returns the input and settings of the last run, if any.
func (o *Orchestrator) Selected() (Input, Settings, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.input == nil {
		return Input{}, Settings{}, false
	}
	return *o.input, o.settings, true
}

// Run executes the pipeline for in. The input and settings are kept for Retry
// whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, in Input, settings Settings) *Outcome {
	if !o.runMu.TryLock() {
		return &Outcome{RunID: o.runID, State: o.State(), Err: ErrBusy}
	}
	defer o.runMu.Unlock()

	o.mu.Lock()
	inCopy := in
	o.input = &inCopy
	o.settings = settings
	o.mu.Unlock()

	return o.run(ctx, in, settings)
}

// Retry reruns the last input and settings.
func (o *Orchestrator) Retry(ctx context.Context) *Outcome {
	in, settings, ok := o.Selected()
	if !ok {
		return &Outcome{RunID: o.runID, State: StateIdle, Err: errors.New("nothing to retry: no input selected")}
	}
	return o.Run(ctx, in, settings)
}

func (o *Orchestrator) run(ctx context.Context, in Input, settings Settings) *Outcome {
	start := time.Now()
	out := &Outcome{
		RunID:          o.runID,
		StageDurations: make(map[State]time.Duration),
	}
	o.collector.IncRunStarted()

	o.mu.Lock()
	o.percent = 0
	o.mu.Unlock()

	o.enter(StateUploading, 0, "preparing "+in.FileName)
	mode, err := resolveMode(in, settings)
	if err != nil {
		return o.finish(out, start, StateUploading, err)
	}
	out.Mode = mode

	o.logger.Info("pipeline started", map[string]any{
		"file_name": in.FileName,
		"mode":      string(mode),
		"framework": string(settings.Convert.Framework),
		"validate":  settings.Validate,
	})

	// Uploading and parsing.
	o.emit(0, "uploading "+in.FileName)
	docRes := timedStage(out, StateUploading, func() Result[*types.ParsedDocument] {
		return o.acquire(ctx, in, settings, mode, out)
	})
	if !docRes.Ok() {
		return o.finish(out, start, o.State(), docRes.Err())
	}
	out.Document = docRes.Value()
	o.emit(PercentParsed, fmt.Sprintf("parsed %d layers", out.Document.LayerCount()))

	// Converting.
	o.enter(StateConverting, PercentParsed, "converting to "+string(settings.Convert.Framework))
	convRes := timedStage(out, StateConverting, func() Result[*types.ConversionResult] {
		return From(o.backend.Convert(ctx, out.Document, settings.Convert))
	})
	if !convRes.Ok() {
		return o.finish(out, start, StateConverting, convRes.Err())
	}
	out.Conversion = convRes.Value()
	o.emit(PercentConverted, "conversion ready")

	// Validating, best-effort.
	if settings.Validate {
		o.enter(StateValidating, PercentConverted, "validating fidelity")
		valRes := timedStage(out, StateValidating, func() Result[*types.ValidationReport] {
			return o.validate(ctx, out.Document, out.Conversion, settings.Validation)
		})
		if valRes.Ok() {
			out.Validation = valRes.Value()
			o.emit(PercentValidated, validationMessage(out.Validation))
		} else {
			if ctx.Err() != nil {
				return o.finish(out, start, StateValidating, valRes.Err())
			}
			out.ValidationErr = valRes.Err()
			o.collector.IncValidationSkipped()
			o.logger.Warn("validation unavailable, continuing without report", map[string]any{
				"error": valRes.Err().Error(),
			})
			o.emit(PercentValidated, "validation unavailable")
		}
	} else {
		o.collector.IncValidationSkipped()
	}

	return o.finish(out, start, StateComplete, nil)
}

// acquire gets the parsed document through the selected upload mode.
func (o *Orchestrator) acquire(ctx context.Context, in Input, settings Settings, mode UploadMode, out *Outcome) Result[*types.ParsedDocument] {
	switch mode {
	case ModePath:
		o.emit(PercentUploaded, "sending path "+in.Path)
		o.enter(StateParsing, PercentUploaded, "parsing")
		return From(o.backend.Parse(ctx, types.ParseRequest{
			FilePath:         in.Path,
			IncludeImageData: settings.IncludeImageData,
		}))

	case ModeChunked:
		u, err := upload.NewUploader(o.backend, upload.Config{
			ChunkSize: settings.ChunkSize,
			Collector: o.collector,
			Logger:    o.logger,
			Observer: func(p upload.Progress) {
				o.emit(int(p.Fraction*PercentUploaded), fmt.Sprintf("chunk %d/%d", p.Index+1, p.Chunks))
			},
		})
		if err != nil {
			return Fail[*types.ParsedDocument](err)
		}
		res, err := u.Upload(ctx, in.FileName, in.Data)
		if err != nil {
			return Fail[*types.ParsedDocument](err)
		}
		out.Upload = res
		o.emit(PercentUploaded, fmt.Sprintf("uploaded %d chunks", res.Chunks))
		o.enter(StateParsing, PercentUploaded, "reading parse result")
		if res.Document == nil {
			return Fail[*types.ParsedDocument](errors.New("complete returned no document"))
		}
		return Ok(res.Document)

	default:
		fileData := api.EncodeDataURL(in.Data)
		o.emit(PercentUploaded, "encoded document")
		o.enter(StateParsing, PercentUploaded, "parsing")
		return From(o.backend.Parse(ctx, types.ParseRequest{
			FileData:         fileData,
			IncludeImageData: settings.IncludeImageData,
		}))
	}
}

// validate treats a nil report as a failure.
func (o *Orchestrator) validate(ctx context.Context, doc *types.ParsedDocument, conv *types.ConversionResult, opts types.ValidateOptions) Result[*types.ValidationReport] {
	report, err := o.backend.Validate(ctx, doc, conv, opts)
	if err != nil {
		return Fail[*types.ValidationReport](err)
	}
	if report == nil {
		return Fail[*types.ValidationReport](errors.New("validation returned no report"))
	}
	return Ok(report)
}

func (o *Orchestrator) finish(out *Outcome, start time.Time, stage State, err error) *Outcome {
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = &StageError{Stage: stage, Err: err}
		out.State = StateErrored
		o.setState(StateErrored)
		o.collector.IncRunErrored()
		o.notify(Progress{Stage: StateErrored, Percent: o.currentPercent(), Message: err.Error()})
		o.logger.Error("pipeline failed", map[string]any{
			"stage":       string(stage),
			"error":       err.Error(),
			"duration_ms": out.Duration.Milliseconds(),
		})
		return out
	}
	out.State = StateComplete
	o.setState(StateComplete)
	o.collector.IncRunCompleted()
	o.emit(PercentDone, "done")
	o.logger.Info("pipeline complete", map[string]any{
		"validated":   out.Validation != nil,
		"duration_ms": out.Duration.Milliseconds(),
	})
	return out
}

func timedStage[T any](out *Outcome, stage State, fn func() Result[T]) Result[T] {
	t0 := time.Now()
	r := fn()
	out.StageDurations[stage] += time.Since(t0)
	return r
}

// enter moves to stage and reports percent.
func (o *Orchestrator) enter(stage State, percent int, msg string) {
	o.setState(stage)
	o.emit(percent, msg)
}

// emit reports progress for the current stage. Percent never decreases
// within a run.
func (o *Orchestrator) emit(percent int, msg string) {
	o.mu.Lock()
	percent = max(percent, o.percent)
	o.percent = percent
	stage := o.state
	o.mu.Unlock()
	o.notify(Progress{Stage: stage, Percent: percent, Message: msg})
}

func (o *Orchestrator) notify(p Progress) {
	if o.observer != nil {
		o.observer(p)
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s != o.state && !CanTransition(o.state, s) {
		o.logger.Warn("unexpected state transition", map[string]any{
			"from": string(o.state),
			"to":   string(s),
		})
	}
	o.state = s
}

func (o *Orchestrator) currentPercent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.percent
}

// resolveMode picks the upload mode for in.
func resolveMode(in Input, settings Settings) (UploadMode, error) {
	mode := settings.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if mode == ModePath {
		if in.Path == "" {
			return "", errors.New("path mode requires a file path")
		}
		return mode, nil
	}
	if len(in.Data) == 0 {
		return "", fmt.Errorf("%s: file is empty", in.FileName)
	}
	if mode != ModeAuto {
		return mode, nil
	}
	limit := settings.InlineLimit
	if limit <= 0 {
		limit = DefaultInlineLimit
	}
	if int64(len(in.Data)) > limit {
		return ModeChunked, nil
	}
	return ModeInline, nil
}

func validationMessage(r *types.ValidationReport) string {
	verdict := "failed"
	if r.Passed {
		verdict = "passed"
	}
	return fmt.Sprintf("similarity %.1f%% (%s)", r.Similarity*100, verdict)
}
