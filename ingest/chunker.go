package ingest

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ChunkOptions configures Split. Sizes are in characters.
type ChunkOptions struct {
	Size    int
	Overlap int
}

// DefaultChunkOptions returns 1000-character chunks overlapping by 200.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Split cuts text into windows of opts.Size characters where each window
// starts opts.Overlap characters before the previous one ends. An overlap
// that is not smaller than the size is ignored.
func Split(text string, opts ChunkOptions) []string {
	if opts.Size <= 0 {
		opts = DefaultChunkOptions()
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := opts.Size - opts.Overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+opts.Size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
