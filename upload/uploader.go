package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/types"
)

// Transport is the wire side of the protocol. *api.Client implements it.
type Transport interface {
	InitUpload(ctx context.Context, fileName string, expectedSize *int64) (string, error)
	AppendChunk(ctx context.Context, uploadID string, index int, chunkBase64 string) (*types.AppendChunkResponse, error)
	CompleteUpload(ctx context.Context, uploadID string) (*types.CompleteUploadResponse, error)
}

// Progress is reported after every accepted append.
type Progress struct {
	UploadID  string
	Index     int
	Chunks    int
	TotalSize int64
	FileSize  int64
	// Fraction is TotalSize/FileSize in [0, 1]; never decreases within a session.
	Fraction float64
}

// Observer receives progress updates. It runs on the uploading goroutine.
type Observer func(Progress)

// Step names the protocol call an Error came from.
type Step string

// Protocol steps.
const (
	StepInit     Step = "init"
	StepAppend   Step = "append"
	StepComplete Step = "complete"
)

// ErrSizeMismatch indicates the backend's running total disagrees with what
// the client has sent.
var ErrSizeMismatch = errors.New("accumulated size mismatch")

// Error is returned when an upload aborts.
type Error struct {
	Step     Step
	UploadID string
	// Index is the chunk being appended; -1 outside the append step.
	Index int
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Step == StepAppend:
		return fmt.Sprintf("upload %s chunk %d: %v", e.Step, e.Index, e.Err)
	case e.UploadID != "":
		return fmt.Sprintf("upload %s %s: %v", e.Step, e.UploadID, e.Err)
	default:
		return fmt.Sprintf("upload %s: %v", e.Step, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Config configures an Uploader.
type Config struct {
	// ChunkSize is the raw (pre-base64) chunk size in bytes (default 256 KiB).
	ChunkSize int
	// Observer is called after each accepted append, if set.
	Observer Observer
	// Collector records chunk counters, if set.
	Collector *metrics.Collector
	// Logger receives per-chunk and failure logs (default: discard).
	Logger *log.Logger
}

// Uploader runs init, append per chunk, then complete against a Transport.
type Uploader struct {
	transport Transport
	chunkSize int
	observer  Observer
	collector *metrics.Collector
	logger    *log.Logger
}

// NewUploader creates an Uploader. A zero chunk size selects the default.
func NewUploader(t Transport, cfg Config) (*Uploader, error) {
	if t == nil {
		return nil, errors.New("uploader requires a transport")
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Uploader{
		transport: t,
		chunkSize: cfg.ChunkSize,
		observer:  cfg.Observer,
		collector: cfg.Collector,
		logger:    logger,
	}, nil
}

// ChunkSize returns the configured chunk size.
func (u *Uploader) ChunkSize() int {
	return u.chunkSize
}

// Upload transfers data as fileName and returns the completed session.
// The first failure aborts: no further append is sent and complete is
// never called after a failed append.
func (u *Uploader) Upload(ctx context.Context, fileName string, data []byte) (*types.UploadResult, error) {
	start := time.Now()
	chunks, err := Split(data, u.chunkSize)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, &Error{Step: StepInit, Index: -1, Err: errors.New("file is empty")}
	}

	fileSize := int64(len(data))
	uploadID, err := u.transport.InitUpload(ctx, fileName, &fileSize)
	if err != nil {
		return nil, u.abort(&Error{Step: StepInit, Index: -1, Err: err})
	}
	u.collector.IncUploadStarted()
	logger := u.logger.WithUploadID(uploadID)
	logger.Info("upload session opened", map[string]any{
		"file_size":  fileSize,
		"chunks":     len(chunks),
		"chunk_size": u.chunkSize,
	})

	var sent int64
	var fraction float64
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, u.abort(&Error{Step: StepAppend, UploadID: uploadID, Index: chunk.Index, Err: err})
		}

		encoded := base64.StdEncoding.EncodeToString(chunk.Data)
		resp, err := u.transport.AppendChunk(ctx, uploadID, chunk.Index, encoded)
		if err != nil {
			u.collector.IncAppendFailure()
			return nil, u.abort(&Error{Step: StepAppend, UploadID: uploadID, Index: chunk.Index, Err: err})
		}

		sent += chunk.Size()
		if resp.TotalSize != 0 && resp.TotalSize != sent {
			u.collector.IncAppendFailure()
			return nil, u.abort(&Error{
				Step:     StepAppend,
				UploadID: uploadID,
				Index:    chunk.Index,
				Err:      fmt.Errorf("%w: backend reports %d bytes, client sent %d", ErrSizeMismatch, resp.TotalSize, sent),
			})
		}
		u.collector.AddChunkSent(chunk.Size())

		// Progress never moves backwards even if the backend's figure does.
		fraction = max(fraction, min(float64(sent)/float64(fileSize), 1))
		logger.Debug("chunk appended", map[string]any{
			"index":      chunk.Index,
			"size":       chunk.Size(),
			"total_size": sent,
		})
		if u.observer != nil {
			u.observer(Progress{
				UploadID:  uploadID,
				Index:     chunk.Index,
				Chunks:    len(chunks),
				TotalSize: sent,
				FileSize:  fileSize,
				Fraction:  fraction,
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, u.abort(&Error{Step: StepComplete, UploadID: uploadID, Index: -1, Err: err})
	}
	resp, err := u.transport.CompleteUpload(ctx, uploadID)
	if err != nil {
		return nil, u.abort(&Error{Step: StepComplete, UploadID: uploadID, Index: -1, Err: err})
	}
	u.collector.IncUploadCompleted()

	result := &types.UploadResult{
		UploadID:  uploadID,
		Chunks:    len(chunks),
		TotalSize: sent,
		Metrics:   resp.Metrics,
	}
	if len(resp.Data) > 0 {
		doc, err := types.DecodeDocument(resp.Data)
		if err != nil {
			return nil, u.abort(&Error{Step: StepComplete, UploadID: uploadID, Index: -1, Err: err})
		}
		result.Document = doc
	}

	logger.Info("upload completed", map[string]any{
		"chunks":      result.Chunks,
		"total_size":  result.TotalSize,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

func (u *Uploader) abort(e *Error) error {
	// Only uploads that got a session count as started, so only those
	// count as failed.
	if e.UploadID != "" {
		u.collector.IncUploadFailed()
	}
	fields := map[string]any{
		"step":  string(e.Step),
		"error": e.Err.Error(),
	}
	if e.Step == StepAppend {
		fields["index"] = e.Index
	}
	if e.UploadID != "" {
		fields["upload_id"] = e.UploadID
	}
	u.logger.Error("upload aborted", fields)
	return e
}
