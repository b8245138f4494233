package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"
)

// HistoryDataset is the lode dataset run records are appended to.
const HistoryDataset = "psdweb-runs"

// RecordKindRun discriminates run records.
const RecordKindRun = "run"

// Run outcomes, used as the outcome partition value.
const (
	OutcomeComplete = "complete"
	OutcomeErrored  = "errored"
)

// ErrNoHistory is returned when no run record matches.
var ErrNoHistory = errors.New("no run records found")

// RunRecord is the storage format of one pipeline run.
// Day and Outcome are partition keys.
type RunRecord struct {
	RecordKind string    `json:"record_kind"`
	RunID      string    `json:"run_id"`
	FileName   string    `json:"file_name"`
	Framework  string    `json:"framework"`
	UploadMode string    `json:"upload_mode"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	// Stage is where an errored run failed.
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
	// Similarity and Passed are set only when validation produced a report.
	Similarity *float64 `json:"similarity,omitempty"`
	Passed     *bool    `json:"passed,omitempty"`
	// Files lists the artifact paths written for the run.
	Files []string `json:"files,omitempty"`

	Day     string `json:"day"`
	Outcome string `json:"outcome"`
}

// HistoryFilter narrows List. Empty fields match everything.
type HistoryFilter struct {
	Day       string
	Outcome   string
	Framework string
	// Limit caps the number of records; 0 means no cap.
	Limit int
}

// History appends and lists run records.
type History struct {
	dataset lode.Dataset
}

// NewHistory opens the run history dataset over factory.
func NewHistory(factory lode.StoreFactory) (*History, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(HistoryDataset),
		factory,
		lode.WithHiveLayout("day", "outcome"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", HistoryDataset, err)
	}
	return &History{dataset: ds}, nil
}

// Append writes one record. Missing partition keys are derived.
func (h *History) Append(ctx context.Context, rec RunRecord) error {
	if rec.RunID == "" {
		return errors.New("run record requires a run id")
	}
	rec.RecordKind = RecordKindRun
	if rec.Day == "" {
		rec.Day = DeriveDay(rec.StartedAt)
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeComplete
		if rec.Error != "" {
			rec.Outcome = OutcomeErrored
		}
	}

	record, err := toRecordMap(rec)
	if err != nil {
		return err
	}
	if _, err := h.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return wrap("write", HistoryDataset, err)
	}
	return nil
}

// List returns matching records, newest first.
func (h *History) List(ctx context.Context, f HistoryFilter) ([]RunRecord, error) {
	snapshots, err := h.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("list", HistoryDataset, err)
	}

	var out []RunRecord
	seen := make(map[string]struct{})
	for _, snap := range snapshots {
		if !snapshotMatches(snap, "day", f.Day) || !snapshotMatches(snap, "outcome", f.Outcome) {
			continue
		}
		data, err := h.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/snapshot/%s", HistoryDataset, snap.ID), err)
		}
		for _, item := range data {
			rec, ok := fromRecord(item)
			if !ok || !f.matches(rec) {
				continue
			}
			// A record may appear in more than one snapshot.
			if _, dup := seen[rec.RunID]; dup {
				continue
			}
			seen[rec.RunID] = struct{}{}
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Latest returns the newest matching record or ErrNoHistory.
func (h *History) Latest(ctx context.Context, f HistoryFilter) (*RunRecord, error) {
	f.Limit = 1
	recs, err := h.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoHistory
	}
	return &recs[0], nil
}

// matches applies record-level filters; manifest paths are only a
// coarse pre-filter.
func (f HistoryFilter) matches(rec RunRecord) bool {
	if f.Day != "" && rec.Day != f.Day {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.Framework != "" && rec.Framework != f.Framework {
		return false
	}
	return true
}

func toRecordMap(rec RunRecord) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode run record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode run record: %w", err)
	}
	return m, nil
}

func fromRecord(item any) (RunRecord, bool) {
	m, ok := item.(map[string]any)
	if !ok || m["record_kind"] != RecordKindRun {
		return RunRecord{}, false
	}
	b, err := json.Marshal(m)
	if err != nil {
		return RunRecord{}, false
	}
	var rec RunRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return RunRecord{}, false
	}
	return rec, true
}

// snapshotMatches reports whether any file of snap lies in the key=value
// partition. Segments are matched exactly so day=2026-02-1 does not match
// day=2026-02-10.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}
