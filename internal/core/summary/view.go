package summary

import (
	"fmt"
	"strconv"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

// View selects a column subset of the export table.
type View string

const (
	ViewAll            View = "all"
	ViewKeyData        View = "keydata"
	ViewMetadata       View = "metadata"
	ViewClassification View = "classification"
)

const (
	ColID           = "id"
	ColFileName     = "file_name"
	ColExtension    = "extension"
	ColSizeBytes    = "size_bytes"
	ColPhase        = "phase"
	ColKind         = "kind"
	ColConfidence   = "confidence"
	ColNames        = "names"
	ColRFCs         = "rfcs"
	ColDates        = "dates"
	ColAmounts      = "amounts"
	ColKeys         = "keys"
	ColLanguage     = "language"
	ColMimeType     = "mime_type"
	ColAuthor       = "author"
	ColSoftware     = "software"
	ColDevice       = "device"
	ColPageCount    = "page_count"
	ColOCRPreview   = "ocr_preview"
	ColErrorMessage = "error_message"
)

var viewColumns = map[View][]string{
	ViewAll: {
		ColID, ColFileName, ColExtension, ColSizeBytes, ColPhase, ColKind, ColConfidence,
		ColNames, ColRFCs, ColDates, ColAmounts, ColKeys, ColLanguage,
		ColMimeType, ColAuthor, ColSoftware, ColDevice, ColPageCount,
		ColOCRPreview, ColErrorMessage,
	},
	ViewKeyData:        {ColID, ColFileName, ColNames, ColRFCs, ColDates, ColAmounts, ColKeys},
	ViewMetadata:       {ColID, ColFileName, ColMimeType, ColSizeBytes, ColAuthor, ColSoftware, ColDevice, ColPageCount},
	ViewClassification: {ColID, ColFileName, ColKind, ColConfidence},
}

func ParseView(raw string) (View, error) {
	if raw == "" {
		return ViewAll, nil
	}
	view := View(raw)
	if _, ok := viewColumns[view]; !ok {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse export view", fmt.Errorf("unknown view %q", raw))
	}
	return view, nil
}

// Columns returns the column names of the view; unknown views fall back to all.
func (v View) Columns() []string {
	cols, ok := viewColumns[v]
	if !ok {
		cols = viewColumns[ViewAll]
	}
	return append([]string(nil), cols...)
}

// Values renders the row for the given columns, in order.
func (r Row) Values(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, col := range cols {
		out = append(out, r.value(col))
	}
	return out
}

func (r Row) value(col string) string {
	switch col {
	case ColID:
		return r.ID
	case ColFileName:
		return r.FileName
	case ColExtension:
		return r.Extension
	case ColSizeBytes:
		return strconv.FormatInt(r.SizeBytes, 10)
	case ColPhase:
		return string(r.Phase)
	case ColKind:
		return string(r.Kind)
	case ColConfidence:
		return strconv.FormatFloat(r.Confidence, 'f', 2, 64)
	case ColNames:
		return r.Names
	case ColRFCs:
		return r.RFCs
	case ColDates:
		return r.Dates
	case ColAmounts:
		return r.Amounts
	case ColKeys:
		return r.Keys
	case ColLanguage:
		return r.Language
	case ColMimeType:
		return r.MimeType
	case ColAuthor:
		return r.Author
	case ColSoftware:
		return r.Software
	case ColDevice:
		return r.Device
	case ColPageCount:
		if r.PageCount == 0 {
			return ""
		}
		return strconv.Itoa(r.PageCount)
	case ColOCRPreview:
		return r.OCRPreview
	case ColErrorMessage:
		return r.ErrorMessage
	default:
		return ""
	}
}
