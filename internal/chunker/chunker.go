// Package chunker splits document text into overlapping chunks for embedding.
package chunker

import (
	"fmt"
	"strings"
)

// Default chunking parameters, tuned for embedding models with ~2k token
// context windows.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Config holds chunking parameters.
type Config struct {
	// ChunkSize is the maximum chunk length in bytes.
	ChunkSize int

	// Overlap is the number of bytes shared between consecutive chunks.
	// Must be smaller than ChunkSize.
	Overlap int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Overlap == 0 {
		c.Overlap = DefaultOverlap
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("overlap (%d) must be smaller than chunk size (%d)", c.Overlap, c.ChunkSize)
	}
	return nil
}

// Chunker splits text into fixed-size chunks with overlap, preferring to cut
// at natural boundaries.
type Chunker struct {
	config Config
}

// New creates a Chunker with the given configuration.
func New(config Config) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Chunker{config: config}, nil
}

// boundaryMarkers in preference order: paragraph break, line break, sentence
// end, word break. Each marker's cut point is the position after the marker,
// so the marker stays with the preceding chunk.
var boundaryMarkers = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Split breaks text into chunks of at most ChunkSize bytes where each chunk
// after the first repeats the final Overlap bytes of its predecessor.
//
// Cut points prefer natural boundaries searched backwards within the current
// window, falling back to a hard cut at the size limit when no boundary
// exists. The search floor excludes the overlap region, so consecutive chunks
// always advance and the original text is recoverable by dropping the first
// Overlap bytes of every chunk after the first.
//
// Empty input returns nil. Input at or under ChunkSize returns a single chunk.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.config.ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.config.ChunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		cut := c.findBoundary(text, start, end)
		chunks = append(chunks, text[start:cut])
		start = cut - c.config.Overlap
	}
	return chunks
}

// findBoundary returns the cut position for the chunk starting at start,
// searching window [floor, end) for the best natural boundary. The floor sits
// just past the overlap region so the next chunk's start always moves forward.
func (c *Chunker) findBoundary(text string, start, end int) int {
	floor := start + c.config.Overlap + 1
	window := text[floor:end]

	for _, marker := range boundaryMarkers {
		if idx := strings.LastIndex(window, marker); idx >= 0 {
			return floor + idx + len(marker)
		}
	}

	// No natural boundary in the window: hard cut at the size limit.
	return end
}
