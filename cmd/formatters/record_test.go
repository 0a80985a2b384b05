package formatters

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestEncodeDocument(t *testing.T) {
	doc := docstore.Document{
		ID:   "abc",
		Path: "orders/abc",
		Data: map[string]interface{}{"total": int64(10), "paid": true},
	}

	record, err := EncodeDocument("p", doc)
	if err != nil {
		t.Fatal(err)
	}

	if record.Timestamp != "1970-01-01T00:00:00" {
		t.Fatalf("unexpected timestamp %q", record.Timestamp)
	}
	if record.EventID != "" {
		t.Fatalf("expected empty event id, got %q", record.EventID)
	}
	if record.Operation != "IMPORT" {
		t.Fatalf("unexpected operation %q", record.Operation)
	}
	if record.DocumentName != "projects/p/databases/(default)/documents/orders/abc" {
		t.Fatalf("unexpected document name %q", record.DocumentName)
	}
	if record.DocumentID != "abc" {
		t.Fatalf("unexpected document id %q", record.DocumentID)
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(record.Data), &data); err != nil {
		t.Fatalf("data is not a JSON string: %v", err)
	}
	if data["total"] != float64(10) || data["paid"] != true {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestEncodeDocumentFieldOrder(t *testing.T) {
	record, err := EncodeDocument("p", docstore.Document{ID: "a", Path: "c/a", Data: map[string]interface{}{}})
	if err != nil {
		t.Fatal(err)
	}

	line, err := json.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	fields := []string{`"timestamp"`, `"event_id"`, `"document_name"`, `"operation"`, `"data"`, `"document_id"`}
	last := -1
	for _, f := range fields {
		i := strings.Index(string(line), f)
		if i <= last {
			t.Fatalf("field %s out of order in %s", f, line)
		}
		last = i
	}
	if !strings.Contains(string(line), `"data":"{}"`) {
		t.Fatalf("expected empty payload string, got %s", line)
	}
}

func TestEncodeTimestamps(t *testing.T) {
	nanos := time.Date(2023, 5, 1, 12, 0, 0, 123456789, time.UTC)
	micros := time.Date(2023, 5, 1, 12, 0, 0, 123456000, time.UTC)

	tests := []struct {
		name        string
		value       interface{}
		seconds     int64
		nanoseconds int64
	}{
		{"nanosecond precision", nanos, nanos.Unix(), 123456789},
		{"microsecond precision", micros, micros.Unix(), 123456000},
		{"pointer", &nanos, nanos.Unix(), 123456789},
		{"protobuf", timestamppb.New(nanos), nanos.Unix(), 123456789},
		{"whole second", time.Unix(1700000000, 0), 1700000000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := EncodeDocument("p", docstore.Document{
				ID:   "a",
				Path: "c/a",
				Data: map[string]interface{}{"at": tt.value},
			})
			if err != nil {
				t.Fatal(err)
			}

			var data struct {
				At Timestamp `json:"at"`
			}
			if err := json.Unmarshal([]byte(record.Data), &data); err != nil {
				t.Fatal(err)
			}
			if data.At.Seconds != tt.seconds || data.At.Nanoseconds != tt.nanoseconds {
				t.Fatalf("expected %d/%d, got %d/%d", tt.seconds, tt.nanoseconds, data.At.Seconds, data.At.Nanoseconds)
			}
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	original := time.Date(2021, 12, 31, 23, 59, 59, 999999999, time.UTC)

	record, err := EncodeDocument("p", docstore.Document{
		ID:   "a",
		Path: "c/a",
		Data: map[string]interface{}{"nested": map[string]interface{}{"list": []interface{}{original}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var data struct {
		Nested struct {
			List []Timestamp `json:"list"`
		} `json:"nested"`
	}
	if err := json.Unmarshal([]byte(record.Data), &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Nested.List) != 1 {
		t.Fatalf("expected one timestamp, got %d", len(data.Nested.List))
	}
	if got := data.Nested.List[0].Time(); !got.Equal(original) {
		t.Fatalf("expected %v, got %v", original, got)
	}
}

func TestEncodeUnsupportedValues(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]interface{}
		field string
	}{
		{"bytes", map[string]interface{}{"blob": []byte("x")}, "blob"},
		{"NaN", map[string]interface{}{"score": math.NaN()}, "score"},
		{"infinity", map[string]interface{}{"score": math.Inf(1)}, "score"},
		{"struct", map[string]interface{}{"geo": struct{ Lat, Lng float64 }{1, 2}}, "geo"},
		{"nested", map[string]interface{}{"a": map[string]interface{}{"b": []interface{}{1, []byte("x")}}}, "a.b[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeDocument("p", docstore.Document{ID: "a", Path: "c/a", Data: tt.data})
			if !errors.Is(err, ErrUnsupportedValueKind) {
				t.Fatalf("expected ErrUnsupportedValueKind, got %v", err)
			}
			if !strings.Contains(err.Error(), "field "+tt.field+" ") {
				t.Fatalf("expected error to name field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestEncodeDocumentsStopsOnError(t *testing.T) {
	docs := []docstore.Document{
		{ID: "a", Path: "c/a", Data: map[string]interface{}{"ok": 1}},
		{ID: "b", Path: "c/b", Data: map[string]interface{}{"bad": []byte("x")}},
	}

	records, err := EncodeDocuments("p", docs)
	if !errors.Is(err, ErrUnsupportedValueKind) {
		t.Fatalf("expected ErrUnsupportedValueKind, got %v", err)
	}
	if records != nil {
		t.Fatalf("expected no records on failure, got %d", len(records))
	}
}
