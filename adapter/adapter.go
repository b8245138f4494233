// Package adapter defines the notification boundary: adapters tell
// downstream systems that a conversion run finished.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventTypeConversionCompleted is the only event type published.
const EventTypeConversionCompleted = "conversion_completed"

// EventVersion is the payload schema version.
const EventVersion = "1"

// ConversionCompletedEvent is published once per finished run, complete
// or errored.
type ConversionCompletedEvent struct {
	Version   string `json:"version"`
	EventType string `json:"event_type"`
	RunID     string `json:"run_id"`
	FileName  string `json:"file_name"`
	Framework string `json:"framework"`
	// Outcome is "complete" or "errored".
	Outcome string `json:"outcome"`
	// Stage is where an errored run failed.
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
	// Similarity is set only when validation produced a report.
	Similarity *float64 `json:"similarity,omitempty"`
	Passed     *bool    `json:"passed,omitempty"`
	// StoragePath is the artifact prefix, when artifacts were stored.
	StoragePath string `json:"storage_path,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC 3339
	DurationMs  int64  `json:"duration_ms"`
}

// Adapter publishes completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation.
	Publish(ctx context.Context, event *ConversionCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBaseBackoff is the delay before the first retry.
const DefaultBaseBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times, doubling the delay from base
// between attempts. It stops early when permanent reports true for an
// error or ctx is done.
func Retry(ctx context.Context, name string, retries int, base time.Duration, permanent func(error) bool, fn func(context.Context) error) error {
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	attempts := 1 + max(retries, 0)

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			timer := time.NewTimer(base << uint(i-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}

// ErrNilEvent is returned when Publish is called without an event.
var ErrNilEvent = errors.New("adapter: nil event")
