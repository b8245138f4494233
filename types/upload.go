// Package types defines core domain types shared by the psdweb client,
// pipeline and reference server.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/json"
	"time"
)

// Chunk is a contiguous byte range of a source file.
// Chunks are produced client-side and never persisted on their own.
type Chunk struct {
	// Index is the sequence position, starting at 0.
	Index int
	// Data is the raw payload.
	Data []byte
}

// Size returns the payload length in bytes.
func (c Chunk) Size() int64 { return int64(len(c.Data)) }

// ReceivedChunk records one appended chunk inside an UploadSession.
type ReceivedChunk struct {
	Index int   `msgpack:"index" json:"index"`
	Size  int64 `msgpack:"size" json:"size"`
}

// UploadSession is the server-side state of one chunked upload.
type UploadSession struct {
	// ID is the opaque session token handed out by init.
	ID       string `msgpack:"id" json:"id"`
	FileName string `msgpack:"file_name" json:"file_name"`
	// ExpectedSize is optional; progress is only reported when set.
	ExpectedSize *int64 `msgpack:"expected_size,omitempty" json:"expected_size,omitempty"`
	// TotalSize is the accumulated byte length of all received chunks.
	TotalSize int64           `msgpack:"total_size" json:"total_size"`
	Chunks    []ReceivedChunk `msgpack:"chunks" json:"chunks"`
	Completed bool            `msgpack:"completed" json:"completed"`
	CreatedAt time.Time       `msgpack:"created_at" json:"created_at"`
	ExpiresAt time.Time       `msgpack:"expires_at" json:"expires_at"`
}

// NextIndex returns the index the next append must carry.
func (s *UploadSession) NextIndex() int {
	return len(s.Chunks)
}

// ChunkBytes returns the sum of all received chunk sizes.
func (s *UploadSession) ChunkBytes() int64 {
	var total int64
	for _, c := range s.Chunks {
		total += c.Size
	}
	return total
}

// Progress returns TotalSize/ExpectedSize, or nil when no expected size
// was declared at init.
func (s *UploadSession) Progress() *float64 {
	if s.ExpectedSize == nil || *s.ExpectedSize <= 0 {
		return nil
	}
	p := float64(s.TotalSize) / float64(*s.ExpectedSize)
	return &p
}

// Expired reports whether the session is past its expiry at now.
func (s *UploadSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// InitUploadRequest is the body of POST /api/psd-chunks/init.
type InitUploadRequest struct {
	FileName     string `json:"fileName"`
	ExpectedSize *int64 `json:"expectedSize,omitempty"`
}

// InitUploadResponse is the reply to init. An empty UploadID is a failure.
type InitUploadResponse struct {
	UploadID string `json:"uploadId,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// AppendChunkRequest is the body of POST /api/psd-chunks/append.
type AppendChunkRequest struct {
	UploadID    string `json:"uploadId"`
	ChunkBase64 string `json:"chunkBase64"`
	// Index is optional on the wire; psdweb always sends it.
	Index *int `json:"index,omitempty"`
}

// AppendChunkResponse is the reply to append.
type AppendChunkResponse struct {
	Success   bool     `json:"success"`
	TotalSize int64    `json:"totalSize"`
	Progress  *float64 `json:"progress,omitempty"`
	Error     string   `json:"error,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// CompleteUploadRequest is the body of POST /api/psd-chunks/complete.
type CompleteUploadRequest struct {
	UploadID string `json:"uploadId"`
}

// UploadMetrics is the optional metrics block of a complete response.
type UploadMetrics struct {
	Chunks     int   `json:"chunks"`
	Bytes      int64 `json:"bytes"`
	DurationMs int64 `json:"durationMs"`
}

// CompleteUploadResponse is the reply to complete.
// Data is kept raw so the parsed document can be forwarded verbatim.
type CompleteUploadResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Metrics *UploadMetrics  `json:"metrics,omitempty"`
}

// UploadResult is what a finished chunked upload hands to the caller.
type UploadResult struct {
	UploadID  string
	Chunks    int
	TotalSize int64
	Document  *ParsedDocument
	Metrics   *UploadMetrics
}
