package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/psdweb/adapter"
	"github.com/pithecene-io/psdweb/api"
	"github.com/pithecene-io/psdweb/artifact"
	"github.com/pithecene-io/psdweb/cli/render"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/pipeline"
	"github.com/pithecene-io/psdweb/types"
)

// DocumentSummary describes the parsed document without its layer tree.
type DocumentSummary struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Layers int `json:"layers"`
}

// RunReport is the JSON summary of one convert run (--report).
type RunReport struct {
	RunID      string    `json:"run_id"`
	FileName   string    `json:"file_name"`
	Framework  string    `json:"framework"`
	UploadMode string    `json:"upload_mode"`
	State      string    `json:"state"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`

	StageDurationsMs map[string]int64 `json:"stage_durations_ms,omitempty"`

	Document *DocumentSummary `json:"document,omitempty"`
	UploadID string           `json:"upload_id,omitempty"`
	Chunks   int              `json:"chunks,omitempty"`

	Similarity      *float64 `json:"similarity,omitempty"`
	Passed          *bool    `json:"passed,omitempty"`
	ValidationError string   `json:"validation_error,omitempty"`

	Files       []string         `json:"files,omitempty"`
	StoragePath string           `json:"storage_path,omitempty"`
	Metrics     metrics.Snapshot `json:"metrics"`
}

func newRunReport(out *pipeline.Outcome, in pipeline.Input, settings pipeline.Settings, started time.Time, snap metrics.Snapshot) RunReport {
	r := RunReport{
		RunID:      out.RunID,
		FileName:   in.FileName,
		Framework:  string(settings.Convert.Framework),
		UploadMode: string(out.Mode),
		State:      string(out.State),
		StartedAt:  started.UTC(),
		DurationMs: out.Duration.Milliseconds(),
		Metrics:    snap,
	}
	if r.UploadMode == "" {
		r.UploadMode = string(settings.Mode)
	}

	if len(out.StageDurations) > 0 {
		r.StageDurationsMs = make(map[string]int64, len(out.StageDurations))
		for stage, d := range out.StageDurations {
			r.StageDurationsMs[string(stage)] = d.Milliseconds()
		}
	}

	if out.Err != nil {
		r.Error = out.Err.Error()
		r.ErrorCode = api.CodeOf(out.Err)
		var se *pipeline.StageError
		if errors.As(out.Err, &se) {
			r.Stage = string(se.Stage)
		}
	}

	if doc := out.Document; doc != nil {
		r.Document = &DocumentSummary{Width: doc.Width, Height: doc.Height, Layers: len(doc.Layers)}
	}
	if up := out.Upload; up != nil {
		r.UploadID = up.UploadID
		r.Chunks = up.Chunks
	}
	if out.Conversion != nil && out.Conversion.Metadata.Framework != "" {
		r.Framework = string(out.Conversion.Metadata.Framework)
	}
	if v := out.Validation; v != nil {
		similarity, passed := v.Similarity, v.Passed
		r.Similarity = &similarity
		r.Passed = &passed
	}
	if out.ValidationErr != nil {
		r.ValidationError = out.ValidationErr.Error()
	}
	return r
}

// outcome returns the history outcome value for the run.
func (r RunReport) outcome() string {
	if r.Error != "" {
		return artifact.OutcomeErrored
	}
	return artifact.OutcomeComplete
}

// Record returns the run history record for the report.
func (r RunReport) Record() artifact.RunRecord {
	return artifact.RunRecord{
		RecordKind: artifact.RecordKindRun,
		RunID:      r.RunID,
		FileName:   r.FileName,
		Framework:  r.Framework,
		UploadMode: r.UploadMode,
		StartedAt:  r.StartedAt,
		DurationMs: r.DurationMs,
		Stage:      r.Stage,
		Error:      r.Error,
		Similarity: r.Similarity,
		Passed:     r.Passed,
		Files:      r.Files,
		Outcome:    r.outcome(),
	}
}

// Event returns the completion event for the report.
func (r RunReport) Event() *adapter.ConversionCompletedEvent {
	return &adapter.ConversionCompletedEvent{
		Version:     adapter.EventVersion,
		EventType:   adapter.EventTypeConversionCompleted,
		RunID:       r.RunID,
		FileName:    r.FileName,
		Framework:   r.Framework,
		Outcome:     r.outcome(),
		Stage:       r.Stage,
		Error:       r.Error,
		Similarity:  r.Similarity,
		Passed:      r.Passed,
		StoragePath: r.StoragePath,
		Timestamp:   r.StartedAt.Add(time.Duration(r.DurationMs) * time.Millisecond).Format(time.RFC3339),
		DurationMs:  r.DurationMs,
	}
}

// writeReport writes r as JSON to path; "-" means stdout.
func writeReport(path string, r RunReport, stdout io.Writer) error {
	if path == "-" {
		return render.WriteJSON(stdout, r)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := render.WriteJSON(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// ConvertSummary is what convert prints when it finishes.
type ConvertSummary struct {
	RunID       string   `json:"run_id"`
	State       string   `json:"state"`
	Framework   string   `json:"framework"`
	UploadMode  string   `json:"upload_mode"`
	DurationMs  int64    `json:"duration_ms"`
	Similarity  *float64 `json:"similarity,omitempty"`
	Passed      *bool    `json:"passed,omitempty"`
	Error       string   `json:"error,omitempty"`
	StoragePath string   `json:"storage_path,omitempty"`
	Components  int      `json:"components"`
}

func newConvertSummary(r RunReport, conv *types.ConversionResult) ConvertSummary {
	s := ConvertSummary{
		RunID:       r.RunID,
		State:       r.State,
		Framework:   r.Framework,
		UploadMode:  r.UploadMode,
		DurationMs:  r.DurationMs,
		Similarity:  r.Similarity,
		Passed:      r.Passed,
		Error:       r.Error,
		StoragePath: r.StoragePath,
	}
	if conv != nil {
		s.Components = len(conv.Components)
	}
	return s
}
