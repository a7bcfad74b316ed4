package models

// DocumentChunk is one bounded-token slice of a markdown document.
// Concatenating chunk contents (modulo heading-split whitespace) reproduces
// the original document.
type DocumentChunk struct {
	Content     string   `json:"content"`
	ChunkIndex  int      `json:"chunk_index"`
	TotalChunks int      `json:"total_chunks"`
	HeaderPath  []string `json:"header_path"` // enclosing #/##/### breadcrumb at chunk start
}
