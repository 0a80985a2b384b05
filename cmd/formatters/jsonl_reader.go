package formatters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds a single record line. Firestore documents are at most
// 1 MiB, and escaping the payload into a string can roughly double that.
const maxLineSize = 4 * 1024 * 1024

// NDJSONReader reads records back from an exported object
type NDJSONReader struct {
	scanner *bufio.Scanner
}

// NewNDJSONReader creates a new NDJSON reader
func NewNDJSONReader(r io.Reader) *NDJSONReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &NDJSONReader{scanner: scanner}
}

// ReadChunk reads up to chunkSize records. An empty result with a nil error
// means the stream is exhausted.
func (r *NDJSONReader) ReadChunk(chunkSize int) ([]ExportRecord, error) {
	var records []ExportRecord

	for len(records) < chunkSize && r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue // Skip empty lines
		}

		var record ExportRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line: %w", err)
		}
		records = append(records, record)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading NDJSON: %w", err)
	}

	return records, nil
}

// ReadAll reads every remaining record
func (r *NDJSONReader) ReadAll() ([]ExportRecord, error) {
	var all []ExportRecord
	for {
		chunk, err := r.ReadChunk(1000)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return all, nil
		}
		all = append(all, chunk...)
	}
}
