package analyzers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/infrastructure/extractor"
)

func ocrApplies(doc domain.Document) bool {
	return doc.OCREligible && doc.Scan.Phase == domain.PhaseCompleted
}

// TextLayerOCR reads the embedded text layer of PDFs. Raster images have no
// text layer and are reported as such.
type TextLayerOCR struct {
	now func() time.Time
}

func NewTextLayerOCR(now func() time.Time) TextLayerOCR {
	if now == nil {
		now = time.Now
	}
	return TextLayerOCR{now: now}
}

func (TextLayerOCR) Stage() domain.Stage { return domain.StageOCR }

func (TextLayerOCR) AppliesTo(doc domain.Document) bool { return ocrApplies(doc) }

func (o TextLayerOCR) Run(ctx context.Context, doc domain.Document, src ports.ContentSource) (domain.StageResult, error) {
	result := domain.OCRResult{Engine: VariantTextLayer}
	if strings.ToLower(doc.Extension) == "pdf" {
		reader, err := src.Open(ctx, doc.Source)
		if err != nil {
			return nil, fmt.Errorf("open source document: %w", err)
		}
		raw, err := io.ReadAll(io.LimitReader(reader, deepReadLimit))
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("read source document: %w", err)
		}
		text, err := extractor.PDFText(ctx, raw)
		if err != nil {
			return nil, err
		}
		result.HasText = text != ""
		result.TextPreview = Preview(text)
	}
	result.ProcessedAt = o.now().UTC()
	return domain.OCRUpdate{Result: result}, nil
}

// PlaceholderOCR returns a canned result without reading content.
type PlaceholderOCR struct {
	now func() time.Time
}

func NewPlaceholderOCR(now func() time.Time) PlaceholderOCR {
	if now == nil {
		now = time.Now
	}
	return PlaceholderOCR{now: now}
}

func (PlaceholderOCR) Stage() domain.Stage { return domain.StageOCR }

func (PlaceholderOCR) AppliesTo(doc domain.Document) bool { return ocrApplies(doc) }

func (o PlaceholderOCR) Run(_ context.Context, doc domain.Document, _ ports.ContentSource) (domain.StageResult, error) {
	return domain.OCRUpdate{Result: domain.OCRResult{
		Engine:      VariantPlaceholder,
		HasText:     true,
		TextPreview: "OCR text for " + doc.FileName,
		ProcessedAt: o.now().UTC(),
	}}, nil
}
