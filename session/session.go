// Package session stores server-side chunked upload sessions.
//
// A session is created on init, grows by one chunk per append, and is
// finalized by complete, which hands back the reassembled bytes. Sessions
// expire after a TTL whether or not they were completed. Two backends are
// provided: an in-process map and Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/psdweb/types"
)

// DefaultTTL is how long a session lives after init.
const DefaultTTL = 15 * time.Minute

// DefaultMaxSize caps the accumulated bytes of one session.
const DefaultMaxSize int64 = 1 << 30

// Sentinel errors. Use errors.Is for assertions.
var (
	ErrNotFound        = errors.New("upload session not found")
	ErrExpired         = errors.New("upload session expired")
	ErrOutOfOrder      = errors.New("chunk out of order")
	ErrSizeMismatch    = errors.New("accumulated size mismatch")
	ErrAlreadyComplete = errors.New("upload already complete")
	ErrEmptyChunk      = errors.New("empty chunk")
	ErrTooLarge        = errors.New("upload exceeds maximum size")
	ErrInvalid         = errors.New("invalid upload request")
)

// Store persists upload sessions. Implementations are safe for concurrent
// use; appends to one session are serialized.
type Store interface {
	// Create opens a session. expectedSize may be nil.
	Create(ctx context.Context, fileName string, expectedSize *int64) (*types.UploadSession, error)
	// Append adds one chunk. A nil index means "next expected"; an explicit
	// index other than the next expected one fails with ErrOutOfOrder.
	Append(ctx context.Context, id string, index *int, data []byte) (*types.UploadSession, error)
	// Complete finalizes the session and returns the bytes in index order.
	Complete(ctx context.Context, id string) (*types.UploadSession, []byte, error)
	// Get returns the session without modifying it.
	Get(ctx context.Context, id string) (*types.UploadSession, error)
	// Delete removes the session and its chunk data.
	Delete(ctx context.Context, id string) error
	// Close releases store resources.
	Close() error
}

// Config configures session lifetime and limits for any Store.
type Config struct {
	// TTL is the session lifetime from init (default 15m).
	TTL time.Duration
	// MaxSize caps TotalSize per session (default 1 GiB).
	MaxSize int64
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func newSession(cfg Config, fileName string, expectedSize *int64) (*types.UploadSession, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalid)
	}
	if expectedSize != nil {
		if *expectedSize <= 0 {
			return nil, fmt.Errorf("%w: expected size must be > 0, got %d", ErrInvalid, *expectedSize)
		}
		if *expectedSize > cfg.MaxSize {
			return nil, fmt.Errorf("%w: expected %d bytes, limit %d", ErrTooLarge, *expectedSize, cfg.MaxSize)
		}
	}
	now := cfg.Now()
	return &types.UploadSession{
		ID:           uuid.NewString(),
		FileName:     fileName,
		ExpectedSize: expectedSize,
		Chunks:       []types.ReceivedChunk{},
		CreatedAt:    now,
		ExpiresAt:    now.Add(cfg.TTL),
	}, nil
}

// applyAppend checks ordering and limits, then records the chunk on s.
func applyAppend(cfg Config, s *types.UploadSession, index *int, size int64) error {
	if s.Expired(cfg.Now()) {
		return ErrExpired
	}
	if s.Completed {
		return ErrAlreadyComplete
	}
	if size == 0 {
		return ErrEmptyChunk
	}
	next := s.NextIndex()
	if index != nil && *index != next {
		return fmt.Errorf("%w: expected index %d, got %d", ErrOutOfOrder, next, *index)
	}
	total := s.TotalSize + size
	if total > cfg.MaxSize || (s.ExpectedSize != nil && total > *s.ExpectedSize) {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}
	s.Chunks = append(s.Chunks, types.ReceivedChunk{Index: next, Size: size})
	s.TotalSize = total
	return nil
}

// checkComplete enforces the size invariant over the reassembled bytes.
func checkComplete(cfg Config, s *types.UploadSession, data []byte) error {
	if s.Expired(cfg.Now()) {
		return ErrExpired
	}
	if s.Completed {
		return ErrAlreadyComplete
	}
	if len(s.Chunks) == 0 {
		return fmt.Errorf("%w: no chunks received", ErrSizeMismatch)
	}
	if s.TotalSize != s.ChunkBytes() || s.TotalSize != int64(len(data)) {
		return fmt.Errorf("%w: total %d, chunks %d, data %d", ErrSizeMismatch, s.TotalSize, s.ChunkBytes(), len(data))
	}
	if s.ExpectedSize != nil && *s.ExpectedSize != s.TotalSize {
		return fmt.Errorf("%w: expected %d, received %d", ErrSizeMismatch, *s.ExpectedSize, s.TotalSize)
	}
	return nil
}
