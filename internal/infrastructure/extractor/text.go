// Package extractor reads document text through a content source.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

var textExtensions = map[string]struct{}{
	"txt": {}, "log": {}, "json": {}, "csv": {}, "xml": {}, "html": {}, "htm": {}, "md": {},
}

// IsTextLike reports whether ext is read as plain text.
func IsTextLike(ext string) bool {
	_, ok := textExtensions[strings.ToLower(ext)]
	return ok
}

// Supports reports whether ReadAll can extract text for ext.
func Supports(ext string) bool {
	switch strings.ToLower(ext) {
	case "pdf", "xlsx":
		return true
	default:
		return IsTextLike(ext)
	}
}

// ReadHead returns at most limit bytes of a text-like document, trimmed to
// the last complete UTF-8 rune.
func ReadHead(ctx context.Context, src ports.ContentSource, doc domain.Document, limit int64) (string, error) {
	if !IsTextLike(doc.Extension) {
		return "", domain.WrapError(domain.ErrUnsupportedContent, "read head", fmt.Errorf("extension %q is not text", doc.Extension))
	}
	reader, err := src.Open(ctx, doc.Source)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, limit))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	// the limit may split a multi-byte rune
	for i := 0; i < utf8.UTFMax-1 && len(raw) > 0 && !utf8.Valid(raw); i++ {
		raw = raw[:len(raw)-1]
	}
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrUnsupportedContent, "read head", fmt.Errorf("binary content in %s", doc.FileName))
	}
	return string(raw), nil
}

// ReadAll extracts the full text of a document: plain text as is, HTML
// without markup, PDF text layers page by page, and XLSX cell values row by row.
func ReadAll(ctx context.Context, src ports.ContentSource, doc domain.Document) (string, error) {
	reader, err := src.Open(ctx, doc.Source)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}

	switch ext := strings.ToLower(doc.Extension); {
	case ext == "pdf":
		return PDFText(ctx, raw)
	case ext == "xlsx":
		return SpreadsheetText(ctx, raw)
	case ext == "html" || ext == "htm":
		return HTMLText(raw)
	case IsTextLike(ext):
		if !utf8.Valid(raw) {
			return "", domain.WrapError(domain.ErrUnsupportedContent, "read text", fmt.Errorf("binary content in %s", doc.FileName))
		}
		return strings.TrimSpace(string(raw)), nil
	default:
		return "", domain.WrapError(domain.ErrUnsupportedContent, "read text", fmt.Errorf("no text reader for %q", doc.Extension))
	}
}

// PDFText concatenates the plain text of every page.
func PDFText(ctx context.Context, raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String()), nil
}

// SpreadsheetText joins non-empty cells with spaces, one line per row.
func SpreadsheetText(ctx context.Context, raw []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) == 0 {
				continue
			}
			b.WriteString(strings.Join(cells, " "))
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// HTMLText returns the visible text nodes of an HTML page separated by
// single spaces. Script and style contents are dropped.
func HTMLText(raw []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				parts = append(parts, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " "), nil
}

// IsUnsupported reports whether err means there is simply no text to read.
func IsUnsupported(err error) bool {
	return errors.Is(err, domain.ErrUnsupportedContent)
}
