package protocol

// Chunk sizes for upload data. Larger chunks are faster, but on stacks with
// a small ATT MTU the whole chunk frame (preamble, tag, index, data, CRC)
// must fit in MTU-3 bytes.
const (
	DefaultChunkSize      = 500
	ConservativeChunkSize = 160
)

// ChunkCount returns ceil(size / chunkSize). Returns 0 for an empty file
// or a non-positive chunk size.
func ChunkCount(size, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// ChunkData returns the exact slice of data carried by chunk index. The
// last chunk may be short; an index past the end yields nil.
func ChunkData(data []byte, index, chunkSize int) []byte {
	if index < 0 || chunkSize <= 0 {
		return nil
	}
	off := index * chunkSize
	if off >= len(data) {
		return nil
	}
	end := off + chunkSize
	if end > len(data) {
		end = len(data)
	}
	return data[off:end]
}
