package analyzers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

const deepReadLimit = 256 * 1024 * 1024

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"xml":  "text/xml",
	"txt":  "text/plain",
	"log":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
	"json": "application/json",
	"html": "text/html",
	"htm":  "text/html",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

func MimeType(ext string) string {
	if mt, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// FilesystemMetadata derives basic metadata from the source's file facts.
type FilesystemMetadata struct{}

func (FilesystemMetadata) Stage() domain.Stage { return domain.StageMetadataBasic }

func (FilesystemMetadata) AppliesTo(domain.Document) bool { return true }

func (FilesystemMetadata) Run(ctx context.Context, doc domain.Document, src ports.ContentSource) (domain.StageResult, error) {
	info, err := src.Stat(ctx, doc.Source)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	size := info.SizeBytes
	if size <= 0 {
		size = doc.SizeBytes
	}
	modified := info.ModifiedAt
	if modified.IsZero() {
		modified = doc.SourceModifiedAt
	}
	return domain.BasicMetadataResult{Basic: domain.BasicMetadata{
		MimeType:   MimeType(doc.Extension),
		SizeBytes:  size,
		CreatedAt:  doc.IngestedAt,
		ModifiedAt: modified.UTC(),
	}}, nil
}

// DocumentProperties reads embedded properties: PDF info dictionaries,
// workbook properties and image dimensions.
type DocumentProperties struct {
	now func() time.Time
}

func NewDocumentProperties(now func() time.Time) DocumentProperties {
	if now == nil {
		now = time.Now
	}
	return DocumentProperties{now: now}
}

func (DocumentProperties) Stage() domain.Stage { return domain.StageMetadataDeep }

func (DocumentProperties) AppliesTo(doc domain.Document) bool {
	return doc.Metadata.Basic != nil && doc.Scan.Phase == domain.PhaseCompleted
}

func (p DocumentProperties) Run(ctx context.Context, doc domain.Document, src ports.ContentSource) (domain.StageResult, error) {
	reader, err := src.Open(ctx, doc.Source)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, deepReadLimit))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	var deep domain.DeepMetadata
	switch ext := strings.ToLower(doc.Extension); ext {
	case "pdf":
		deep, err = pdfProperties(raw)
	case "xlsx":
		deep, err = workbookProperties(raw)
	case "jpg", "jpeg", "png", "gif":
		deep, err = imageProperties(raw)
	}
	if err != nil {
		return nil, err
	}
	deep.ScannedAt = p.now().UTC()
	return domain.DeepMetadataResult{Deep: deep}, nil
}

func pdfProperties(raw []byte) (domain.DeepMetadata, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(raw), conf)
	if err != nil {
		return domain.DeepMetadata{}, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return domain.DeepMetadata{}, fmt.Errorf("validate pdf: %w", err)
	}

	xref := pdfCtx.XRefTable
	software := xref.Producer
	if software == "" {
		software = xref.Creator
	}
	return domain.DeepMetadata{
		Author:    xref.Author,
		Title:     xref.Title,
		Software:  software,
		PageCount: xref.PageCount,
		Created:   parsePDFDate(xref.CreationDate),
		Modified:  parsePDFDate(xref.ModDate),
	}, nil
}

// parsePDFDate understands the D:YYYYMMDDHHmmSS prefix; the zone suffix is ignored.
func parsePDFDate(raw string) time.Time {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "D:")
	digits := 0
	for digits < len(raw) && raw[digits] >= '0' && raw[digits] <= '9' {
		digits++
	}
	var layout string
	switch {
	case digits >= 14:
		digits, layout = 14, "20060102150405"
	case digits >= 12:
		digits, layout = 12, "200601021504"
	case digits >= 8:
		digits, layout = 8, "20060102"
	default:
		return time.Time{}
	}
	t, err := time.Parse(layout, raw[:digits])
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func workbookProperties(raw []byte) (domain.DeepMetadata, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.DeepMetadata{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	deep := domain.DeepMetadata{PageCount: len(f.GetSheetList())}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		deep.Author = props.Creator
		deep.Title = props.Title
		deep.Created = parseISOTime(props.Created)
		deep.Modified = parseISOTime(props.Modified)
	}
	if app, err := f.GetAppProps(); err == nil && app != nil {
		deep.Software = strings.TrimSpace(app.Application + " " + app.AppVersion)
	}
	return deep, nil
}

func parseISOTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func imageProperties(raw []byte) (domain.DeepMetadata, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return domain.DeepMetadata{}, fmt.Errorf("decode image header: %w", err)
	}
	return domain.DeepMetadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		PageCount: 1,
	}, nil
}
