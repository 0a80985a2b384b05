package formatters

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Fixed field values of an import record, as written by the
// export-collections-to-BigQuery import script
const (
	ImportTimestamp = "1970-01-01T00:00:00"
	ImportOperation = "IMPORT"
	ImportEventID   = ""
)

// ErrUnsupportedValueKind is returned when a document field holds a value that
// has no representation in the record payload
var ErrUnsupportedValueKind = errors.New("unsupported value kind")

// ExportRecord is one line of an exported object. Field order is part of the
// wire format.
type ExportRecord struct {
	Timestamp    string `json:"timestamp"`
	EventID      string `json:"event_id"`
	DocumentName string `json:"document_name"`
	Operation    string `json:"operation"`
	Data         string `json:"data"`
	DocumentID   string `json:"document_id"`
}

// EncodeDocument converts a document into an import record. Data is the
// document payload serialized as a JSON string with every timestamp rewritten
// to {"_seconds": n, "_nanoseconds": n}.
func EncodeDocument(projectID string, doc docstore.Document) (ExportRecord, error) {
	payload, err := normalizeMap(doc.Data, "")
	if err != nil {
		return ExportRecord{}, fmt.Errorf("document %s: %w", doc.Path, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ExportRecord{}, fmt.Errorf("document %s: %w", doc.Path, err)
	}

	return ExportRecord{
		Timestamp:    ImportTimestamp,
		EventID:      ImportEventID,
		DocumentName: docstore.DocumentName(projectID, doc.Path),
		Operation:    ImportOperation,
		Data:         string(data),
		DocumentID:   doc.ID,
	}, nil
}

// EncodeDocuments encodes a batch, failing on the first document that cannot
// be encoded
func EncodeDocuments(projectID string, docs []docstore.Document) ([]ExportRecord, error) {
	records := make([]ExportRecord, 0, len(docs))
	for _, doc := range docs {
		record, err := EncodeDocument(projectID, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Timestamp is the payload form of a timestamp value
type Timestamp struct {
	Seconds     int64 `json:"_seconds"`
	Nanoseconds int64 `json:"_nanoseconds"`
}

// NewTimestamp splits t into Unix seconds and the sub-second nanoseconds
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanoseconds: int64(t.Nanosecond())}
}

// Time converts the payload form back to a time.Time in UTC
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, ts.Nanoseconds).UTC()
}

func normalizeMap(m map[string]interface{}, prefix string) (map[string]interface{}, error) {
	if m == nil {
		return map[string]interface{}{}, nil
	}

	// walk in key order so the reported field is deterministic
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(m))
	for _, k := range keys {
		v, err := normalizeValue(m[k], joinField(prefix, k))
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func normalizeValue(v interface{}, field string) (interface{}, error) {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, nil
	case float32:
		return checkFloat(float64(val), field)
	case float64:
		return checkFloat(val, field)
	case json.Number:
		return val, nil
	case time.Time:
		return NewTimestamp(val), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return NewTimestamp(*val), nil
	case *timestamppb.Timestamp:
		if val == nil {
			return nil, nil
		}
		return Timestamp{Seconds: val.GetSeconds(), Nanoseconds: int64(val.GetNanos())}, nil
	case map[string]interface{}:
		return normalizeMap(val, field)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			n, err := normalizeValue(item, fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: field %s has type %T", ErrUnsupportedValueKind, field, v)
	}
}

func checkFloat(f float64, field string) (interface{}, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: field %s is %v", ErrUnsupportedValueKind, field, f)
	}
	return f, nil
}

func joinField(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
