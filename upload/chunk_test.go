package upload

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/pithecene-io/psdweb/types"
)

func testPayload(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2))
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(r.IntN(256))
	}
	return data
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size      int64
		chunkSize int
		want      int
	}{
		{0, 128, 0},
		{1, 128, 1},
		{128, 128, 1},
		{129, 128, 2},
		{512 << 10, 128 << 10, 4},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.size, tt.chunkSize); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.size, tt.chunkSize, got, tt.want)
		}
	}
}

func TestSplit_Sizes(t *testing.T) {
	data := testPayload(1000)
	chunks, err := Split(data, 300)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	wantSizes := []int64{300, 300, 300, 100}
	if len(chunks) != len(wantSizes) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(wantSizes))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.Size() != wantSizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, c.Size(), wantSizes[i])
		}
	}
}

func TestSplit_InvalidChunkSize(t *testing.T) {
	if _, err := Split([]byte("abc"), 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
}

func TestSplit_Empty(t *testing.T) {
	chunks, err := Split(nil, 10)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

func TestSplitReassemble_RoundTrip(t *testing.T) {
	for _, size := range []int{1, 127, 128, 129, 4096, 100_003} {
		data := testPayload(size)
		chunks, err := Split(data, 128)
		if err != nil {
			t.Fatalf("split: %v", err)
		}

		// Reassembly must not depend on the order chunks are held in.
		rand.New(rand.NewPCG(3, 4)).Shuffle(len(chunks), func(i, j int) {
			chunks[i], chunks[j] = chunks[j], chunks[i]
		})

		got, err := Reassemble(chunks)
		if err != nil {
			t.Fatalf("reassemble(%d): %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("round trip of %d bytes does not reproduce the input", size)
		}
	}
}

func TestReassemble_Gap(t *testing.T) {
	chunks := []types.Chunk{
		{Index: 0, Data: []byte("a")},
		{Index: 2, Data: []byte("c")},
	}
	if _, err := Reassemble(chunks); err == nil {
		t.Error("expected error for missing index 1")
	}
}

func TestReassemble_Duplicate(t *testing.T) {
	chunks := []types.Chunk{
		{Index: 0, Data: []byte("a")},
		{Index: 0, Data: []byte("a")},
	}
	if _, err := Reassemble(chunks); err == nil {
		t.Error("expected error for duplicate index 0")
	}
}
