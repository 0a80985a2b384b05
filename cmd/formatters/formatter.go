package formatters

import "io"

// Format type constants
const (
	FormatNDJSON = "ndjson"
)

// Formatter defines the interface for output format handlers
type Formatter interface {
	// NewWriter returns a writer that serializes records to w
	NewWriter(w io.Writer) StreamWriter

	// Extension returns the file extension for this format (e.g., ".json")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string
}

// StreamWriter writes records incrementally
type StreamWriter interface {
	// WriteChunk appends records in order
	WriteChunk(records []ExportRecord) error

	// Close flushes buffered output; it does not close the underlying writer
	Close() error
}

// GetFormatter returns the appropriate formatter based on the format string
func GetFormatter(format string) Formatter {
	switch format {
	case FormatNDJSON, "jsonl":
		return NewNDJSONFormatter()
	default:
		return NewNDJSONFormatter()
	}
}
