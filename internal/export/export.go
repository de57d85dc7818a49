// Package export writes capture pool snapshots as JSON lines, CSV or Parquet
// and reads them back.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/bolahunter/internal/capture"
)

// Format represents supported file formats
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name; empty means JSON.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s (must be json, csv, or parquet)", name)
	}
}

// DetectFormat detects file format from extension
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	default:
		return FormatJSON
	}
}

// ContentType returns the MIME type served for f
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/x-ndjson"
	}
}

// Extension returns the file extension for f, without the dot
func (f Format) Extension() string {
	if f == FormatJSON {
		return "jsonl"
	}
	return string(f)
}

// Record is one exported capture pool entry
type Record struct {
	Seq         int64  `csv:"seq" parquet:"seq" json:"seq"`
	Active      bool   `csv:"active" parquet:"active" json:"active"`
	Value       string `csv:"value" parquet:"value" json:"value"`
	Rule        string `csv:"type" parquet:"type" json:"type"`
	Method      string `csv:"method" parquet:"method" json:"method"`
	URL         string `csv:"url" parquet:"url" json:"url"`
	HasResponse bool   `csv:"has_response" parquet:"has_response" json:"has_response"`
	CapturedAt  string `csv:"captured_at" parquet:"captured_at" json:"captured_at"`
}

var csvHeader = []string{"seq", "active", "value", "type", "method", "url", "has_response", "captured_at"}

// FromSnapshots converts pool snapshots to records, keeping their order
func FromSnapshots(snaps []capture.Snapshot) []Record {
	records := make([]Record, len(snaps))
	for i, s := range snaps {
		records[i] = Record{
			Seq:         int64(s.Seq),
			Active:      s.Active,
			Value:       s.Value,
			Rule:        s.RuleName,
			Method:      s.Method,
			URL:         s.URL,
			HasResponse: s.HasResponse,
			CapturedAt:  s.CapturedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return records
}

// Write encodes records to w in the given format
func Write(w io.Writer, format Format, records []Record) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		return writeCSV(w, records)
	case FormatParquet:
		return writeParquet(w, records)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// writeJSON writes one JSON object per line
func writeJSON(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("failed to write JSON record: %w", err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.Seq, 10),
			strconv.FormatBool(r.Active),
			r.Value,
			r.Rule,
			r.Method,
			r.URL,
			strconv.FormatBool(r.HasResponse),
			r.CapturedAt,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeParquet(w io.Writer, records []Record) error {
	pw := parquet.NewWriter(w, parquet.SchemaOf(new(Record)))
	for i := range records {
		if err := pw.Write(&records[i]); err != nil {
			return fmt.Errorf("failed to write Parquet record: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

// ReadFile reads an export file, detecting its format from the extension
func ReadFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer file.Close()

	switch DetectFormat(path) {
	case FormatCSV:
		return readCSV(file)
	case FormatParquet:
		return readParquet(file)
	default:
		return readJSON(file)
	}
}

func readJSON(r io.Reader) ([]Record, error) {
	var records []Record
	decoder := json.NewDecoder(r)
	for {
		var record Record
		err := decoder.Decode(&record)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON record: %w", err)
		}
		records = append(records, record)
	}
}

func readCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		seq, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seq %q: %w", row[0], err)
		}
		records = append(records, Record{
			Seq:         seq,
			Active:      row[1] == "true",
			Value:       row[2],
			Rule:        row[3],
			Method:      row[4],
			URL:         row[5],
			HasResponse: row[6] == "true",
			CapturedAt:  row[7],
		})
	}
}

func readParquet(r io.ReaderAt) ([]Record, error) {
	reader := parquet.NewReader(r)
	defer reader.Close()

	var records []Record
	for {
		var record Record
		err := reader.Read(&record)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read Parquet record: %w", err)
		}
		records = append(records, record)
	}
}
