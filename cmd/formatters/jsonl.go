package formatters

import (
	"bufio"
	"encoding/json"
	"io"
)

// NDJSONFormatter writes one JSON record per line. Objects keep the ".json"
// extension the warehouse loaders match on.
type NDJSONFormatter struct{}

// NewNDJSONFormatter creates a new NDJSON formatter
func NewNDJSONFormatter() *NDJSONFormatter {
	return &NDJSONFormatter{}
}

// NewWriter creates a new NDJSON stream writer
func (f *NDJSONFormatter) NewWriter(w io.Writer) StreamWriter {
	return &ndjsonStreamWriter{writer: bufio.NewWriter(w)}
}

// Extension returns the file extension for exported objects
func (f *NDJSONFormatter) Extension() string {
	return ".json"
}

// MIMEType returns the MIME type for NDJSON
func (f *NDJSONFormatter) MIMEType() string {
	return "application/x-ndjson"
}

// ndjsonStreamWriter implements StreamWriter for NDJSON
type ndjsonStreamWriter struct {
	writer *bufio.Writer
}

// WriteChunk writes a chunk of records, one per line
func (w *ndjsonStreamWriter) WriteChunk(records []ExportRecord) error {
	for _, record := range records {
		jsonData, err := json.Marshal(record)
		if err != nil {
			return err
		}

		if _, err := w.writer.Write(jsonData); err != nil {
			return err
		}
		if err := w.writer.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the buffered lines
func (w *ndjsonStreamWriter) Close() error {
	return w.writer.Flush()
}
