// Package importfile decodes externally sourced occupant rows from CSV, JSON, or YAML files.
package importfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/perangkat/internal/domain"
	"gopkg.in/yaml.v3"
)

// Format names a supported import encoding.
type Format string

// Format values.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnsupportedFormat reports an unknown file extension or format name.
var ErrUnsupportedFormat = errors.New("unsupported import format")

// Options adjusts decoding.
type Options struct {
	// DefaultVillage fills rows that carry no village.
	DefaultVillage string
}

// Record is one undecoded row. Line is the CSV line, YAML node line, or JSON array position.
type Record struct {
	Line             int    `json:"-" yaml:"-"`
	Village          string `json:"village" yaml:"village"`
	Title            string `json:"title" yaml:"title"`
	FullName         string `json:"full_name" yaml:"full_name"`
	NationalID       string `json:"national_id" yaml:"national_id"`
	BirthDate        string `json:"birth_date" yaml:"birth_date"`
	DecreeNumber     string `json:"decree_number" yaml:"decree_number"`
	DecreeDate       string `json:"decree_date" yaml:"decree_date"`
	InaugurationDate string `json:"inauguration_date" yaml:"inauguration_date"`
	TenureEndDate    string `json:"tenure_end_date" yaml:"tenure_end_date"`
}

// ParseFormat resolves a format name such as "csv" or "yml".
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// FormatFromPath resolves the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// DecodeFile opens path and decodes it using the format implied by its extension.
func DecodeFile(path string, opts Options) ([]domain.ImportRow, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f, format, opts)
}

// Decode reads every row from r. Only a malformed document fails; a bad field value is
// recorded on its row and left for the reconciler to skip.
func Decode(r io.Reader, format Format, opts Options) ([]domain.ImportRow, error) {
	records, err := DecodeRecords(r, format, opts)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.ImportRow, len(records))
	for i, rec := range records {
		rows[i] = rec.Row()
	}
	return rows, nil
}

// DecodeRecords reads every row from r without parsing its field values.
func DecodeRecords(r io.Reader, format Format, opts Options) ([]Record, error) {
	var (
		records []Record
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = decodeCSV(r)
	case FormatJSON:
		records, err = decodeJSON(r)
	case FormatYAML:
		records, err = decodeYAML(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if village := strings.TrimSpace(opts.DefaultVillage); village != "" {
		for i := range records {
			if strings.TrimSpace(records[i].Village) == "" {
				records[i].Village = village
			}
		}
	}
	return records, nil
}

// Row converts rec. The first unparseable date is kept in Err with its line and column.
func (rec Record) Row() domain.ImportRow {
	row := domain.ImportRow{
		Line:    rec.Line,
		Village: strings.TrimSpace(rec.Village),
		Title:   strings.TrimSpace(rec.Title),
		Occupant: domain.Occupant{
			FullName:     strings.TrimSpace(rec.FullName),
			NationalID:   strings.TrimSpace(rec.NationalID),
			DecreeNumber: strings.TrimSpace(rec.DecreeNumber),
		},
	}
	dates := []struct {
		name string
		raw  string
		dst  **time.Time
	}{
		{"birth_date", rec.BirthDate, &row.Occupant.BirthDate},
		{"decree_date", rec.DecreeDate, &row.Occupant.DecreeDate},
		{"inauguration_date", rec.InaugurationDate, &row.Occupant.InaugurationDate},
		{"tenure_end_date", rec.TenureEndDate, &row.Occupant.TenureEndDate},
	}
	for _, d := range dates {
		v, err := domain.ParseDate(d.raw)
		if err != nil {
			if row.Err == nil {
				row.Err = fmt.Errorf("line %d: %s: %w", rec.Line, d.name, err)
			}
			continue
		}
		*d.dst = v
	}
	return row
}

func decodeJSON(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json rows: %w", err)
	}
	for i := range records {
		records[i].Line = i + 1
	}
	return records, nil
}

func decodeYAML(r io.Reader) ([]Record, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("decode yaml rows: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("decode yaml rows: line %d: expected a list of rows", root.Line)
	}
	records := make([]Record, 0, len(root.Content))
	for _, item := range root.Content {
		var rec Record
		if err := item.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode yaml rows: line %d: %w", item.Line, err)
		}
		rec.Line = item.Line
		records = append(records, rec)
	}
	return records, nil
}

// headerAliases maps normalized spreadsheet headers, Indonesian or English, to Record fields.
var headerAliases = map[string]string{
	"village":               "village",
	"desa":                  "village",
	"nama_desa":             "village",
	"title":                 "title",
	"position":              "title",
	"jabatan":               "title",
	"full_name":             "full_name",
	"name":                  "full_name",
	"nama":                  "full_name",
	"nama_lengkap":          "full_name",
	"national_id":           "national_id",
	"nik":                   "national_id",
	"birth_date":            "birth_date",
	"tanggal_lahir":         "birth_date",
	"tgl_lahir":             "birth_date",
	"decree_number":         "decree_number",
	"nomor_sk":              "decree_number",
	"no_sk":                 "decree_number",
	"decree_date":           "decree_date",
	"tanggal_sk":            "decree_date",
	"tgl_sk":                "decree_date",
	"inauguration_date":     "inauguration_date",
	"tanggal_pelantikan":    "inauguration_date",
	"tgl_pelantikan":        "inauguration_date",
	"tenure_end_date":       "tenure_end_date",
	"akhir_masa_jabatan":    "tenure_end_date",
	"masa_jabatan_berakhir": "tenure_end_date",
}

func normalizeHeader(raw string) string {
	raw = strings.TrimPrefix(raw, "\ufeff")
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.NewReplacer(" ", "_", "-", "_", ".", "").Replace(raw)
	return raw
}

func decodeCSV(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if headerLine, _, _ := bytes.Cut(first, []byte("\n")); bytes.Count(headerLine, []byte(";")) > bytes.Count(headerLine, []byte(",")) {
		reader.Comma = ';'
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("line 1: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		field, ok := headerAliases[normalizeHeader(col)]
		if !ok {
			continue
		}
		if _, dup := idx[field]; !dup {
			idx[field] = i
		}
	}
	for _, required := range []string{"title", "full_name"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("line 1: missing %s column", required)
		}
	}

	records := make([]Record, 0)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		get := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}
		if blankRecord(rec) {
			continue
		}
		records = append(records, Record{
			Line:             line,
			Village:          get("village"),
			Title:            get("title"),
			FullName:         get("full_name"),
			NationalID:       get("national_id"),
			BirthDate:        get("birth_date"),
			DecreeNumber:     get("decree_number"),
			DecreeDate:       get("decree_date"),
			InaugurationDate: get("inauguration_date"),
			TenureEndDate:    get("tenure_end_date"),
		})
	}
	return records, nil
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
