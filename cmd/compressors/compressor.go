package compressors

import (
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedCompression is returned when an unsupported compression type is requested
var ErrUnsupportedCompression = errors.New("unsupported compression type")

// Compression names accepted by GetCompressor
const (
	Zstd = "zstd"
	LZ4  = "lz4"
	Gzip = "gzip"
	None = "none"
)

// Compressor wraps an export object stream with a compression codec
type Compressor interface {
	// NewWriter returns a writer that compresses into w. Closing it flushes
	// the codec but does not close w.
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)

	// Extension returns the object name suffix for this compression (e.g. ".zst", ".gz")
	Extension() string

	// ContentEncoding returns the value stored as object content encoding, empty for none
	ContentEncoding() string

	// DefaultLevel returns the default compression level
	DefaultLevel() int
}

// GetCompressor returns the appropriate compressor based on the compression string
func GetCompressor(compression string) (Compressor, error) {
	switch compression {
	case Zstd:
		return NewZstdCompressor(), nil
	case LZ4:
		return NewLZ4Compressor(), nil
	case Gzip:
		return NewGzipCompressor(), nil
	case None, "":
		return NewNoneCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}

// IsValidLevel reports whether level is accepted for the given compression
func IsValidLevel(compression string, level int) bool {
	switch compression {
	case Zstd:
		return level >= 1 && level <= 22
	case LZ4, Gzip:
		return level >= 1 && level <= 9
	case None, "":
		return level == 0
	default:
		return false
	}
}
