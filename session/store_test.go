package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func ptr[T any](v T) *T { return &v }

// storeFactories builds each backend fresh for a subtest.
func storeFactories(t *testing.T, cfg Config) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store {
			return NewMemoryStore(cfg)
		},
		"redis": func() Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(RedisConfig{Config: cfg, URL: "redis://" + mr.Addr()})
			if err != nil {
				t.Fatalf("new redis store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_AppendCompleteRoundTrip(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			parts := [][]byte{[]byte("8BPS"), []byte("\x00\x01"), []byte("rest-of-file")}
			var want []byte
			for _, p := range parts {
				want = append(want, p...)
			}

			s, err := store.Create(ctx, "hero.psd", ptr(int64(len(want))))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if s.ID == "" {
				t.Fatal("expected a session id")
			}

			var lastProgress float64
			for i, p := range parts {
				got, err := store.Append(ctx, s.ID, ptr(i), p)
				if err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
				if got.TotalSize != got.ChunkBytes() {
					t.Errorf("TotalSize %d != sum of chunks %d", got.TotalSize, got.ChunkBytes())
				}
				prog := got.Progress()
				if prog == nil {
					t.Fatal("expected progress with expected size set")
				}
				if *prog < lastProgress {
					t.Errorf("progress decreased: %v -> %v", lastProgress, *prog)
				}
				lastProgress = *prog
			}
			if lastProgress != 1 {
				t.Errorf("final progress = %v, want 1", lastProgress)
			}

			done, data, err := store.Complete(ctx, s.ID)
			if err != nil {
				t.Fatalf("complete: %v", err)
			}
			if !done.Completed {
				t.Error("session should be marked completed")
			}
			if !bytes.Equal(data, want) {
				t.Errorf("reassembled = %q, want %q", data, want)
			}

			if _, _, err := store.Complete(ctx, s.ID); !errors.Is(err, ErrAlreadyComplete) {
				t.Errorf("second complete: expected ErrAlreadyComplete, got %v", err)
			}
			if _, err := store.Append(ctx, s.ID, nil, []byte("x")); !errors.Is(err, ErrAlreadyComplete) {
				t.Errorf("append after complete: expected ErrAlreadyComplete, got %v", err)
			}
		})
	}
}

func TestStore_OmittedIndexIsNextExpected(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			s, _ := store.Create(ctx, "hero.psd", nil)
			for _, p := range []string{"ab", "cd", "ef"} {
				if _, err := store.Append(ctx, s.ID, nil, []byte(p)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			got, err := store.Get(ctx, s.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			for i, c := range got.Chunks {
				if c.Index != i {
					t.Errorf("chunk %d recorded as index %d", i, c.Index)
				}
			}
			if got.Progress() != nil {
				t.Error("progress must be nil without an expected size")
			}
			_, data, err := store.Complete(ctx, s.ID)
			if err != nil {
				t.Fatalf("complete: %v", err)
			}
			if string(data) != "abcdef" {
				t.Errorf("data = %q, want abcdef", data)
			}
		})
	}
}

func TestStore_OutOfOrder(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			s, _ := store.Create(ctx, "hero.psd", nil)
			if _, err := store.Append(ctx, s.ID, ptr(1), []byte("x")); !errors.Is(err, ErrOutOfOrder) {
				t.Fatalf("expected ErrOutOfOrder for index 1 first, got %v", err)
			}
			if _, err := store.Append(ctx, s.ID, ptr(0), []byte("x")); err != nil {
				t.Fatalf("append 0: %v", err)
			}
			if _, err := store.Append(ctx, s.ID, ptr(0), []byte("x")); !errors.Is(err, ErrOutOfOrder) {
				t.Fatalf("expected ErrOutOfOrder for repeated index, got %v", err)
			}

			got, _ := store.Get(ctx, s.ID)
			if len(got.Chunks) != 1 || got.TotalSize != 1 {
				t.Errorf("rejected appends must not change the session: %+v", got)
			}
		})
	}
}

func TestStore_SizeMismatchOnComplete(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			s, _ := store.Create(ctx, "hero.psd", ptr(int64(10)))
			if _, err := store.Append(ctx, s.ID, ptr(0), []byte("12345")); err != nil {
				t.Fatalf("append: %v", err)
			}
			if _, _, err := store.Complete(ctx, s.ID); !errors.Is(err, ErrSizeMismatch) {
				t.Fatalf("expected ErrSizeMismatch, got %v", err)
			}
		})
	}
}

func TestStore_EmptyCompleteAndChunk(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			s, _ := store.Create(ctx, "hero.psd", nil)
			if _, err := store.Append(ctx, s.ID, nil, nil); !errors.Is(err, ErrEmptyChunk) {
				t.Errorf("expected ErrEmptyChunk, got %v", err)
			}
			if _, _, err := store.Complete(ctx, s.ID); !errors.Is(err, ErrSizeMismatch) {
				t.Errorf("complete with no chunks: expected ErrSizeMismatch, got %v", err)
			}
		})
	}
}

func TestStore_TooLarge(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{MaxSize: 8}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			if _, err := store.Create(ctx, "hero.psd", ptr(int64(9))); !errors.Is(err, ErrTooLarge) {
				t.Errorf("create over limit: expected ErrTooLarge, got %v", err)
			}
			s, _ := store.Create(ctx, "hero.psd", nil)
			if _, err := store.Append(ctx, s.ID, nil, []byte("123456789")); !errors.Is(err, ErrTooLarge) {
				t.Errorf("append over limit: expected ErrTooLarge, got %v", err)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("get: expected ErrNotFound, got %v", err)
			}
			if _, err := store.Append(ctx, "nope", nil, []byte("x")); !errors.Is(err, ErrNotFound) {
				t.Errorf("append: expected ErrNotFound, got %v", err)
			}
			if _, _, err := store.Complete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("complete: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, newStore := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			ctx := t.Context()

			s, _ := store.Create(ctx, "hero.psd", nil)
			if err := store.Delete(ctx, s.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStore_CreateValidation(t *testing.T) {
	store := NewMemoryStore(Config{})
	if _, err := store.Create(t.Context(), "", nil); err == nil {
		t.Error("expected error for empty file name")
	}
	if _, err := store.Create(t.Context(), "hero.psd", ptr(int64(0))); err == nil {
		t.Error("expected error for zero expected size")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore(Config{TTL: time.Minute, Now: clock})
	ctx := t.Context()

	s, _ := store.Create(ctx, "hero.psd", nil)
	if _, err := store.Append(ctx, s.ID, nil, []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Append(ctx, s.ID, nil, []byte("y")); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expired session should be swept, Len = %d", store.Len())
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Config: Config{TTL: time.Minute}, URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := t.Context()

	s, _ := store.Create(ctx, "hero.psd", nil)
	if _, err := store.Append(ctx, s.ID, nil, []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !mr.Exists(DefaultKeyPrefix + s.ID + ":chunks") {
		t.Fatal("expected chunk list key")
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after TTL, got %v", err)
	}
	if mr.Exists(DefaultKeyPrefix + s.ID + ":chunks") {
		t.Error("chunk list should expire with the session")
	}
}

func TestRedisStore_CompleteDropsChunks(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := t.Context()

	s, _ := store.Create(ctx, "hero.psd", nil)
	_, _ = store.Append(ctx, s.ID, nil, []byte("8BPS"))
	if _, _, err := store.Complete(ctx, s.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if mr.Exists("test:" + s.ID + ":chunks") {
		t.Error("chunk list should be deleted after complete")
	}
	if !mr.Exists("test:" + s.ID) {
		t.Error("completed session record should remain until TTL")
	}
}

func TestNewRedisStore_Validation(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := NewRedisStore(RedisConfig{URL: "not-a-url"}); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestMemoryStore_ConcurrentAppendsSerialized(t *testing.T) {
	store := NewMemoryStore(Config{})
	ctx := t.Context()
	s, _ := store.Create(ctx, "hero.psd", nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Append(ctx, s.ID, nil, []byte("z"))
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, s.ID)
	if len(got.Chunks) != 50 || got.TotalSize != 50 {
		t.Fatalf("got %d chunks / %d bytes, want 50 / 50", len(got.Chunks), got.TotalSize)
	}
	for i, c := range got.Chunks {
		if c.Index != i {
			t.Fatalf("chunk %d recorded as index %d", i, c.Index)
		}
	}
}
