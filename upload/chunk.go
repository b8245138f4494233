// Package upload implements the client side of the chunked upload protocol.
//
// A file is split into fixed-size chunks, each sent base64-encoded with its
// index in strictly increasing order, then the session is completed. One
// append is in flight at a time and nothing is retried: the first failure
// aborts the session and the caller starts over.
package upload

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/pithecene-io/psdweb/types"
)

// DefaultChunkSize keeps a base64-encoded chunk plus its JSON envelope well
// under a 4.5 MB serverless body limit.
const DefaultChunkSize = 256 << 10

// ChunkCount returns how many chunks a payload of size bytes splits into.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	cs := int64(chunkSize)
	return int((size + cs - 1) / cs)
}

// Split cuts data into chunks of chunkSize bytes; the last may be shorter.
// Chunk data aliases data. An empty payload yields no chunks.
func Split(data []byte, chunkSize int) ([]types.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}
	chunks := make([]types.Chunk, 0, ChunkCount(int64(len(data)), chunkSize))
	for i := 0; len(data) > 0; i++ {
		n := min(chunkSize, len(data))
		chunks = append(chunks, types.Chunk{Index: i, Data: data[:n:n]})
		data = data[n:]
	}
	return chunks, nil
}

// Reassemble concatenates chunks in index order.
// It fails when an index is missing or duplicated.
func Reassemble(chunks []types.Chunk) ([]byte, error) {
	sorted := slices.Clone(chunks)
	slices.SortFunc(sorted, func(a, b types.Chunk) int { return a.Index - b.Index })

	var size int
	for i, c := range sorted {
		if c.Index != i {
			return nil, fmt.Errorf("chunk sequence broken at position %d: got index %d", i, c.Index)
		}
		size += len(c.Data)
	}

	var buf bytes.Buffer
	buf.Grow(size)
	for _, c := range sorted {
		buf.Write(c.Data)
	}
	return buf.Bytes(), nil
}
