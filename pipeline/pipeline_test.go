package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/psdweb/api"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/types"
)

// fakeBackend records calls and answers from canned values.
type fakeBackend struct {
	mu sync.Mutex

	parseErr    error
	convertErr  error
	validateErr error
	appendErr   error
	report      *types.ValidationReport

	// block, when set, is waited on inside Parse.
	block chan struct{}

	calls     []string
	parseReq  types.ParseRequest
	convOpts  types.ConvertOptions
	received  int64
	appendIdx []int
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeBackend) InitUpload(_ context.Context, _ string, _ *int64) (string, error) {
	f.record("init")
	return "up-1", nil
}

func (f *fakeBackend) AppendChunk(_ context.Context, _ string, index int, chunkBase64 string) (*types.AppendChunkResponse, error) {
	f.record("append")
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendIdx = append(f.appendIdx, index)
	// base64 length to raw length; chunk sizes in tests are multiples of 3.
	f.received += int64(len(chunkBase64) / 4 * 3)
	return &types.AppendChunkResponse{Success: true, TotalSize: f.received}, nil
}

func (f *fakeBackend) CompleteUpload(_ context.Context, _ string) (*types.CompleteUploadResponse, error) {
	f.record("complete")
	data, _ := json.Marshal(sampleDocument())
	return &types.CompleteUploadResponse{Success: true, Data: data}, nil
}

func (f *fakeBackend) Parse(ctx context.Context, req types.ParseRequest) (*types.ParsedDocument, error) {
	f.record("parse")
	f.mu.Lock()
	f.parseReq = req
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return sampleDocument(), nil
}

func (f *fakeBackend) Convert(_ context.Context, _ *types.ParsedDocument, opts types.ConvertOptions) (*types.ConversionResult, error) {
	f.record("convert")
	f.mu.Lock()
	f.convOpts = opts
	f.mu.Unlock()
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return &types.ConversionResult{
		HTML: "<div></div>",
		Metadata: types.ConversionMetadata{
			Framework:     opts.Framework,
			Responsive:    opts.Responsive,
			Semantic:      opts.Semantic,
			Accessibility: opts.Accessibility,
		},
	}, nil
}

func (f *fakeBackend) Validate(_ context.Context, _ *types.ParsedDocument, _ *types.ConversionResult, _ types.ValidateOptions) (*types.ValidationReport, error) {
	f.record("validate")
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if f.report != nil {
		return f.report, nil
	}
	return &types.ValidationReport{Similarity: 0.98, Passed: true}, nil
}

func (f *fakeBackend) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func sampleDocument() *types.ParsedDocument {
	return &types.ParsedDocument{
		Width:  100,
		Height: 50,
		Layers: []types.Layer{{ID: "1", Name: "Title", Type: "text", Visible: true}},
	}
}

func psdBytes(n int) []byte {
	data := make([]byte, n)
	copy(data, "8BPS")
	return data
}

type progressLog struct {
	mu      sync.Mutex
	updates []Progress
}

func (p *progressLog) observe(u Progress) {
	p.mu.Lock()
	p.updates = append(p.updates, u)
	p.mu.Unlock()
}

func (p *progressLog) percents() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.updates))
	for _, u := range p.updates {
		out = append(out, u.Percent)
	}
	return out
}

func (p *progressLog) stages() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []State
	for _, u := range p.updates {
		if len(out) == 0 || out[len(out)-1] != u.Stage {
			out = append(out, u.Stage)
		}
	}
	return out
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func newTestOrchestrator(t *testing.T, b Backend, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(b, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestNew_RequiresBackend(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil backend")
	}
}

func TestRun_InlineHappyPath(t *testing.T) {
	b := &fakeBackend{}
	var log progressLog
	c := metrics.NewCollector("html", "inline", "none", "run-1")
	o := newTestOrchestrator(t, b, WithObserver(log.observe), WithCollector(c), WithRunID("run-1"))

	out := o.Run(t.Context(), Input{FileName: "a.psd", Data: psdBytes(64)}, DefaultSettings())
	if out.Err != nil {
		t.Fatalf("run: %v", out.Err)
	}
	if out.State != StateComplete || o.State() != StateComplete {
		t.Errorf("state = %s/%s, want complete", out.State, o.State())
	}
	if out.Mode != ModeInline {
		t.Errorf("mode = %s, want inline", out.Mode)
	}
	if out.RunID != "run-1" {
		t.Errorf("run id = %q", out.RunID)
	}
	if !strings.HasPrefix(b.parseReq.FileData, "data:") {
		t.Errorf("parse should receive a data URL, got %q", b.parseReq.FileData)
	}
	if got := strings.Join(b.callList(), ","); got != "parse,convert,validate" {
		t.Errorf("calls = %s", got)
	}
	if out.Validation == nil || out.Validation.Similarity != 0.98 {
		t.Errorf("validation = %+v", out.Validation)
	}

	percents := log.percents()
	for _, want := range []int{PercentUploaded, PercentParsed, PercentConverted, PercentValidated, PercentDone} {
		if !contains(percents, want) {
			t.Errorf("percent %d never reported: %v", want, percents)
		}
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress decreased: %v", percents)
		}
	}
	wantStages := []State{StateUploading, StateParsing, StateConverting, StateValidating, StateComplete}
	if got := log.stages(); len(got) != len(wantStages) {
		t.Errorf("stages = %v, want %v", got, wantStages)
	} else {
		for i := range wantStages {
			if got[i] != wantStages[i] {
				t.Errorf("stages = %v, want %v", got, wantStages)
				break
			}
		}
	}

	snap := c.Snapshot()
	if snap.RunsStarted != 1 || snap.RunsCompleted != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestRun_AutoSwitchesToChunked(t *testing.T) {
	b := &fakeBackend{}
	var log progressLog
	o := newTestOrchestrator(t, b, WithObserver(log.observe))

	settings := DefaultSettings()
	settings.InlineLimit = 100
	settings.ChunkSize = 30
	out := o.Run(t.Context(), Input{FileName: "big.psd", Data: psdBytes(120)}, settings)
	if out.Err != nil {
		t.Fatalf("run: %v", out.Err)
	}
	if out.Mode != ModeChunked {
		t.Errorf("mode = %s, want chunked", out.Mode)
	}
	if out.Upload == nil || out.Upload.Chunks != 4 {
		t.Errorf("upload = %+v, want 4 chunks", out.Upload)
	}
	if len(b.appendIdx) != 4 || b.appendIdx[3] != 3 {
		t.Errorf("append indexes = %v", b.appendIdx)
	}
	for _, c := range b.callList() {
		if c == "parse" {
			t.Error("chunked mode must not call parse")
		}
	}
	if out.Document == nil || out.Document.Width != 100 {
		t.Errorf("document = %+v", out.Document)
	}
	percents := log.percents()
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress decreased: %v", percents)
		}
	}
}

func TestRun_PathMode(t *testing.T) {
	b := &fakeBackend{}
	o := newTestOrchestrator(t, b)

	settings := DefaultSettings()
	settings.Mode = ModePath
	settings.IncludeImageData = true
	out := o.Run(t.Context(), Input{FileName: "a.psd", Path: "/designs/a.psd"}, settings)
	if out.Err != nil {
		t.Fatalf("run: %v", out.Err)
	}
	if b.parseReq.FilePath != "/designs/a.psd" || b.parseReq.FileData != "" {
		t.Errorf("parse request = %+v", b.parseReq)
	}
	if !b.parseReq.IncludeImageData {
		t.Error("IncludeImageData not forwarded")
	}
}

func TestRun_ValidationFailureIsBestEffort(t *testing.T) {
	b := &fakeBackend{validateErr: errors.New("renderer unavailable")}
	var log progressLog
	c := metrics.NewCollector("tailwind", "inline", "none", "run-2")
	o := newTestOrchestrator(t, b, WithObserver(log.observe), WithCollector(c))

	settings := DefaultSettings()
	settings.Convert = types.ConvertOptions{Framework: types.FrameworkTailwind}
	out := o.Run(t.Context(), Input{FileName: "a.psd", Data: psdBytes(64)}, settings)
	if out.Err != nil {
		t.Fatalf("validation failure must not fail the run: %v", out.Err)
	}
	if out.State != StateComplete {
		t.Errorf("state = %s, want complete", out.State)
	}
	if out.Validation != nil {
		t.Errorf("validation = %+v, want nil", out.Validation)
	}
	if out.ValidationErr == nil {
		t.Error("expected the swallowed validation error to be kept")
	}
	if out.Conversion == nil || out.Conversion.Metadata.Framework != types.FrameworkTailwind {
		t.Errorf("conversion = %+v, want tailwind metadata", out.Conversion)
	}
	if out.Conversion.Metadata.Responsive || out.Conversion.Metadata.Semantic || out.Conversion.Metadata.Accessibility {
		t.Errorf("options must pass through unchanged: %+v", out.Conversion.Metadata)
	}
	if b.convOpts != settings.Convert {
		t.Errorf("convert options = %+v, want %+v", b.convOpts, settings.Convert)
	}
	if snap := c.Snapshot(); snap.ValidationSkipped != 1 || snap.RunsCompleted != 1 {
		t.Errorf("metrics = %+v", snap)
	}
	if !contains(log.percents(), PercentDone) {
		t.Error("run should still reach 100%")
	}
}

func TestRun_ValidationDisabled(t *testing.T) {
	b := &fakeBackend{}
	var log progressLog
	o := newTestOrchestrator(t, b, WithObserver(log.observe))

	settings := DefaultSettings()
	settings.Validate = false
	out := o.Run(t.Context(), Input{FileName: "a.psd", Data: psdBytes(64)}, settings)
	if out.Err != nil {
		t.Fatalf("run: %v", out.Err)
	}
	for _, c := range b.callList() {
		if c == "validate" {
			t.Error("validate called while disabled")
		}
	}
	if contains(log.percents(), PercentValidated) {
		t.Errorf("75%% reported without validation: %v", log.percents())
	}
	for _, s := range log.stages() {
		if s == StateValidating {
			t.Error("validating stage entered while disabled")
		}
	}
}

func TestRun_ParseFailureStops(t *testing.T) {
	b := &fakeBackend{parseErr: api.Rejected(api.EndpointParse, 400, api.CodeInvalidSignature, "file is image/png, not a PSD")}
	c := metrics.NewCollector("html", "inline", "none", "run-3")
	o := newTestOrchestrator(t, b, WithCollector(c))

	out := o.Run(t.Context(), Input{FileName: "a.png", Data: psdBytes(64)}, DefaultSettings())
	if out.State != StateErrored || o.State() != StateErrored {
		t.Fatalf("state = %s, want errored", out.State)
	}
	if !errors.Is(out.Err, api.ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", out.Err)
	}
	var se *StageError
	if !errors.As(out.Err, &se) || se.Stage != StateParsing {
		t.Errorf("stage error = %v, want parsing", out.Err)
	}
	if got := b.callList(); len(got) != 1 {
		t.Errorf("calls = %v, want only parse", got)
	}
	if c.Snapshot().RunsErrored != 1 {
		t.Error("errored run not counted")
	}
}

func TestRun_ConvertFailureStops(t *testing.T) {
	b := &fakeBackend{convertErr: errors.New("boom")}
	o := newTestOrchestrator(t, b)

	out := o.Run(t.Context(), Input{FileName: "a.psd", Data: psdBytes(64)}, DefaultSettings())
	var se *StageError
	if !errors.As(out.Err, &se) || se.Stage != StateConverting {
		t.Fatalf("err = %v, want converting stage error", out.Err)
	}
	if out.Document == nil {
		t.Error("document from the parse step should be kept")
	}
	for _, c := range b.callList() {
		if c == "validate" {
			t.Error("validate must not run after a failed conversion")
		}
	}
}

func TestRun_ChunkFailureIsFailFast(t *testing.T) {
	b := &fakeBackend{appendErr: errors.New("connection reset")}
	o := newTestOrchestrator(t, b)

	settings := DefaultSettings()
	settings.Mode = ModeChunked
	settings.ChunkSize = 30
	out := o.Run(t.Context(), Input{FileName: "a.psd", Data: psdBytes(120)}, settings)
	if out.Err == nil {
		t.Fatal("expected error")
	}
	appends := 0
	for _, c := range b.callList() {
		if c == "append" {
			appends++
		}
	}
	if appends != 1 {
		t.Errorf("appends = %d, want 1 (no retry)", appends)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	o := newTestOrchestrator(t, &fakeBackend{})
	out := o.Run(t.Context(), Input{FileName: "empty.psd"}, DefaultSettings())
	if out.Err == nil || out.State != StateErrored {
		t.Errorf("outcome = %+v, want errored", out)
	}
}

func TestRun_Busy(t *testing.T) {
	b := &fakeBackend{block: make(chan struct{})}
	o := newTestOrchestrator(t, b)

	done := make(chan *Outcome)
	go func() {
		done <- o.Run(t.Context(), Input{FileName: "a.psd", Data: psdBytes(64)}, DefaultSettings())
	}()

	// Wait until the first run is inside Parse.
	for len(b.callList()) == 0 {
		time.Sleep(time.Millisecond)
	}
	second := o.Run(t.Context(), Input{FileName: "b.psd", Data: psdBytes(64)}, DefaultSettings())
	if !errors.Is(second.Err, ErrBusy) {
		t.Errorf("second run err = %v, want ErrBusy", second.Err)
	}
	close(b.block)
	if first := <-done; first.Err != nil {
		t.Errorf("first run: %v", first.Err)
	}
}

func TestRetry(t *testing.T) {
	o := newTestOrchestrator(t, &fakeBackend{})
	if out := o.Retry(t.Context()); out.Err == nil {
		t.Error("retry without a previous run should fail")
	}

	b := &fakeBackend{parseErr: errors.New("temporarily down")}
	o = newTestOrchestrator(t, b)
	settings := DefaultSettings()
	settings.Convert.Framework = types.FrameworkReact
	if out := o.Run(t.Context(), Input{FileName: "a.psd", Data: psdBytes(64)}, settings); out.Err == nil {
		t.Fatal("expected first run to fail")
	}

	b.mu.Lock()
	b.parseErr = nil
	b.mu.Unlock()
	out := o.Retry(t.Context())
	if out.Err != nil {
		t.Fatalf("retry: %v", out.Err)
	}
	if b.convOpts.Framework != types.FrameworkReact {
		t.Errorf("retry should reuse settings, got %+v", b.convOpts)
	}
	in, _, ok := o.Selected()
	if !ok || in.FileName != "a.psd" {
		t.Errorf("selected = %+v, %v", in, ok)
	}
}

func TestParseUploadMode(t *testing.T) {
	for in, want := range map[string]UploadMode{"": ModeAuto, "auto": ModeAuto, "inline": ModeInline, "chunked": ModeChunked, "path": ModePath} {
		got, err := ParseUploadMode(in)
		if err != nil || got != want {
			t.Errorf("ParseUploadMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseUploadMode("ftp"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
