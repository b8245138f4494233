// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single pipeline run. It is a
// leaf package with no internal dependencies so the upload client, the
// pipeline and the artifact store can all record into the same instance.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Pipeline lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsErrored   int64 `json:"runs_errored"`

	// Chunked upload
	UploadsStarted   int64 `json:"uploads_started"`
	UploadsCompleted int64 `json:"uploads_completed"`
	UploadsFailed    int64 `json:"uploads_failed"`
	ChunksSent       int64 `json:"chunks_sent"`
	BytesSent        int64 `json:"bytes_sent"`
	AppendFailures   int64 `json:"append_failures"`

	// Backend requests, keyed by endpoint path
	Requests        map[string]int64 `json:"requests"`
	RequestFailures map[string]int64 `json:"request_failures"`

	// Validation
	ValidationSkipped int64 `json:"validation_skipped"`

	// Artifact storage
	StorageWriteSuccess int64 `json:"storage_write_success"`
	StorageWriteFailure int64 `json:"storage_write_failure"`

	// Dimensions (informational, set at construction)
	Framework      string `json:"framework"`
	UploadMode     string `json:"upload_mode"`
	StorageBackend string `json:"storage_backend"`
	RunID          string `json:"run_id"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsErrored   int64

	uploadsStarted   int64
	uploadsCompleted int64
	uploadsFailed    int64
	chunksSent       int64
	bytesSent        int64
	appendFailures   int64

	requests        map[string]int64
	requestFailures map[string]int64

	validationSkipped int64

	storageWriteSuccess int64
	storageWriteFailure int64

	framework      string
	uploadMode     string
	storageBackend string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(framework, uploadMode, storageBackend, runID string) *Collector {
	return &Collector{
		requests:        make(map[string]int64),
		requestFailures: make(map[string]int64),
		framework:       framework,
		uploadMode:      uploadMode,
		storageBackend:  storageBackend,
		runID:           runID,
	}
}

// --- Pipeline lifecycle ---

// IncRunStarted records a pipeline run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// IncRunCompleted records a run that reached Complete.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsCompleted++
	c.mu.Unlock()
}

// IncRunErrored records a run that ended in Errored.
func (c *Collector) IncRunErrored() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsErrored++
	c.mu.Unlock()
}

// --- Chunked upload ---

// IncUploadStarted records an init call that returned a session.
func (c *Collector) IncUploadStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadsStarted++
	c.mu.Unlock()
}

// IncUploadCompleted records a successful complete.
func (c *Collector) IncUploadCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadsCompleted++
	c.mu.Unlock()
}

// IncUploadFailed records an upload aborted after its session opened.
func (c *Collector) IncUploadFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadsFailed++
	c.mu.Unlock()
}

// AddChunkSent records one accepted append of size raw bytes.
func (c *Collector) AddChunkSent(size int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksSent++
	c.bytesSent += size
	c.mu.Unlock()
}

// IncAppendFailure records a rejected or failed append.
func (c *Collector) IncAppendFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.appendFailures++
	c.mu.Unlock()
}

// --- Backend requests ---

// IncRequest records one request issued to endpoint.
func (c *Collector) IncRequest(endpoint string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requests[endpoint]++
	c.mu.Unlock()
}

// IncRequestFailure records one failed request to endpoint.
func (c *Collector) IncRequestFailure(endpoint string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestFailures[endpoint]++
	c.mu.Unlock()
}

// IncValidationSkipped records a run that completed without a report.
func (c *Collector) IncValidationSkipped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.validationSkipped++
	c.mu.Unlock()
}

// --- Artifact storage ---
// Counters are per-file, not per-run.

// IncStorageWriteSuccess records a successful artifact write.
func (c *Collector) IncStorageWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storageWriteSuccess++
	c.mu.Unlock()
}

// IncStorageWriteFailure records a failed artifact write.
func (c *Collector) IncStorageWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storageWriteFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsErrored:   c.runsErrored,

		UploadsStarted:   c.uploadsStarted,
		UploadsCompleted: c.uploadsCompleted,
		UploadsFailed:    c.uploadsFailed,
		ChunksSent:       c.chunksSent,
		BytesSent:        c.bytesSent,
		AppendFailures:   c.appendFailures,

		Requests:        copyCounts(c.requests),
		RequestFailures: copyCounts(c.requestFailures),

		ValidationSkipped: c.validationSkipped,

		StorageWriteSuccess: c.storageWriteSuccess,
		StorageWriteFailure: c.storageWriteFailure,

		Framework:      c.framework,
		UploadMode:     c.uploadMode,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
