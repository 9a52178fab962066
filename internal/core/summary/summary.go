// Package summary derives read-only aggregate views from registry state.
// Every function here is pure: it never mutates the documents it reads.
package summary

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

const (
	DefaultTopExtensions = 5
	listSeparator        = "; "
	otherExtension       = "OTHER"
)

type KindCount struct {
	Kind  domain.DocumentKind `json:"kind"`
	Count int                 `json:"count"`
}

type ExtensionCount struct {
	Extension string `json:"extension"`
	Count     int    `json:"count"`
}

type Summary struct {
	TotalDocs           int              `json:"total_docs"`
	DetectedKinds       int              `json:"detected_kinds"`
	DocsWithMetadataPct int              `json:"docs_with_metadata_pct"`
	TotalSizeBytes      int64            `json:"total_size_bytes"`
	DistributionByKind  []KindCount      `json:"distribution_by_kind"`
	TopExtensions       []ExtensionCount `json:"top_extensions"`
}

// Build computes the dashboard aggregates. An empty input yields zero values
// with empty (non-nil) slices.
func Build(docs []domain.Document) Summary {
	out := Summary{
		DistributionByKind: DistributionByKind(docs),
		TopExtensions:      TopExtensions(docs, DefaultTopExtensions),
	}
	out.TotalDocs = len(docs)
	if out.TotalDocs == 0 {
		return out
	}

	withMetadata := 0
	for _, doc := range docs {
		out.TotalSizeBytes += doc.SizeBytes
		if doc.Metadata.HasAny() {
			withMetadata++
		}
	}
	out.DetectedKinds = len(out.DistributionByKind)
	out.DocsWithMetadataPct = int(math.Round(float64(withMetadata) / float64(out.TotalDocs) * 100))
	return out
}

// DistributionByKind counts documents per classification kind, most frequent first.
func DistributionByKind(docs []domain.Document) []KindCount {
	counts := make(map[domain.DocumentKind]int)
	for _, doc := range docs {
		kind := doc.Classification.Kind
		if kind == "" {
			kind = domain.KindUnknown
		}
		counts[kind]++
	}

	out := make([]KindCount, 0, len(counts))
	for kind, count := range counts {
		out = append(out, KindCount{Kind: kind, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// TopExtensions returns the n most common upper-cased extensions.
func TopExtensions(docs []domain.Document, n int) []ExtensionCount {
	if n <= 0 {
		return []ExtensionCount{}
	}
	counts := make(map[string]int)
	for _, doc := range docs {
		ext := strings.ToUpper(doc.Extension)
		if ext == "" {
			ext = otherExtension
		}
		counts[ext]++
	}

	out := make([]ExtensionCount, 0, len(counts))
	for ext, count := range counts {
		out = append(out, ExtensionCount{Extension: ext, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Extension < out[j].Extension
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Row is the flat per-document summary line.
type Row struct {
	ID           string
	FileName     string
	Extension    string
	SizeBytes    int64
	Phase        domain.ScanPhase
	Kind         domain.DocumentKind
	Confidence   float64
	Names        string
	RFCs         string
	Dates        string
	Amounts      string
	Keys         string
	Language     string
	MimeType     string
	Author       string
	Software     string
	Device       string
	PageCount    int
	OCRPreview   string
	ErrorMessage string
}

func NewRow(doc domain.Document) Row {
	row := Row{
		ID:           doc.ID,
		FileName:     doc.FileName,
		Extension:    doc.Extension,
		SizeBytes:    doc.SizeBytes,
		Phase:        doc.Scan.Phase,
		Kind:         doc.Classification.Kind,
		Confidence:   doc.Classification.Confidence,
		Names:        strings.Join(doc.KeyData.Names, listSeparator),
		RFCs:         strings.Join(doc.KeyData.RFCs, listSeparator),
		Dates:        strings.Join(doc.KeyData.Dates, listSeparator),
		Amounts:      joinAmounts(doc.KeyData.Amounts),
		Keys:         strings.Join(doc.KeyData.Keys, listSeparator),
		Language:     doc.KeyData.Language,
		ErrorMessage: doc.Scan.ErrorMessage,
	}
	if row.Kind == "" {
		row.Kind = domain.KindUnknown
	}
	if basic := doc.Metadata.Basic; basic != nil {
		row.MimeType = basic.MimeType
	}
	if deep := doc.Metadata.Deep; deep != nil {
		row.Author = deep.Author
		row.Software = deep.Software
		row.Device = deep.Device
		row.PageCount = deep.PageCount
	}
	if doc.OCR != nil {
		row.OCRPreview = doc.OCR.TextPreview
	}
	return row
}

func Rows(docs []domain.Document) []Row {
	out := make([]Row, 0, len(docs))
	for _, doc := range docs {
		out = append(out, NewRow(doc))
	}
	return out
}

// RowFor finds the summary row of one document.
func RowFor(docs []domain.Document, id string) (Row, error) {
	for _, doc := range docs {
		if doc.ID == id {
			return NewRow(doc), nil
		}
	}
	return Row{}, domain.WrapError(domain.ErrDocumentNotFound, "summary row", fmt.Errorf("id=%s", id))
}

func joinAmounts(amounts []float64) string {
	parts := make([]string, 0, len(amounts))
	for _, a := range amounts {
		parts = append(parts, strconv.FormatFloat(a, 'f', -1, 64))
	}
	return strings.Join(parts, listSeparator)
}

// Record renders rows into the stringified table of the given view.
func Record(id string, view View, rows []Row, now time.Time) domain.ExportRecord {
	cols := view.Columns()
	out := domain.ExportRecord{
		ID:        id,
		View:      string(view),
		CreatedAt: now,
		Columns:   cols,
		Rows:      make([][]string, 0, len(rows)),
	}
	for _, row := range rows {
		out.Rows = append(out.Rows, row.Values(cols))
	}
	return out
}
