package analyzers

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/infrastructure/extractor"
)

const (
	quickReadLimit = 64 * 1024
	previewLength  = 240
)

var (
	rfcPattern    = regexp.MustCompile(`\b[A-ZÑ&]{3,4}\d{6}[A-Z0-9]{3}\b`)
	datePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{2}/\d{2}/\d{4}\b`)
	amountPattern = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b`)
	namePattern   = regexp.MustCompile(`[A-ZÁÉÍÓÚÑ][a-záéíóúñ]+(?:\s+[A-ZÁÉÍÓÚÑ][a-záéíóúñ]+){1,3}`)
	keyPattern    = regexp.MustCompile(`\b[A-Z0-9_\-]{6,}\b`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

var (
	spanishHints = []string{"factura", "contrato", "reporte", "pago", "rfc", "monto"}
	englishHints = []string{"invoice", "contract", "report", "payment", "amount"}
)

// ExtractKeyData runs the key-data patterns over text. Every collection is
// de-duplicated and keeps first-seen order.
func ExtractKeyData(text string, depth domain.KeyDataDepth) domain.KeyData {
	data := domain.EmptyKeyData()
	data.Depth = depth
	if strings.TrimSpace(text) == "" {
		return data
	}

	data.RFCs = unique(rfcPattern.FindAllString(text, -1))
	data.Dates = unique(datePattern.FindAllString(text, -1))
	data.Names = unique(namePattern.FindAllString(text, -1))
	data.Keys = unique(keyPattern.FindAllString(text, -1))

	seen := make(map[float64]struct{})
	for _, raw := range amountPattern.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		data.Amounts = append(data.Amounts, v)
	}

	data.Preview = Preview(text)
	data.Language = DetectLanguage(text)
	return data
}

// Preview collapses whitespace and keeps the first 240 characters.
func Preview(text string) string {
	collapsed := spacePattern.ReplaceAllString(strings.TrimSpace(text), " ")
	runes := []rune(collapsed)
	if len(runes) > previewLength {
		runes = runes[:previewLength]
	}
	return string(runes)
}

// DetectLanguage returns "es", "en" or "other" by counting hint words.
func DetectLanguage(text string) string {
	lower := strings.ToLower(text)
	es, en := countHits(lower, spanishHints), countHits(lower, englishHints)
	switch {
	case es > en && es > 0:
		return "es"
	case en > es && en > 0:
		return "en"
	default:
		return "other"
	}
}

func countHits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func unique(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// RegexKeyData reads the head of text-like files. Other files yield empty key data.
type RegexKeyData struct{}

func (RegexKeyData) Stage() domain.Stage { return domain.StageKeyDataQuick }

func (RegexKeyData) AppliesTo(domain.Document) bool { return true }

func (RegexKeyData) Run(ctx context.Context, doc domain.Document, src ports.ContentSource) (domain.StageResult, error) {
	if !extractor.IsTextLike(doc.Extension) {
		return domain.KeyDataResult{Data: ExtractKeyData("", domain.KeyDataQuick)}, nil
	}
	text, err := extractor.ReadHead(ctx, src, doc, quickReadLimit)
	if err != nil {
		if extractor.IsUnsupported(err) {
			return domain.KeyDataResult{Data: ExtractKeyData("", domain.KeyDataQuick)}, nil
		}
		return nil, err
	}
	return domain.KeyDataResult{Data: ExtractKeyData(text, domain.KeyDataQuick)}, nil
}

// DocumentTextKeyData reads the whole document, including PDF text layers
// and spreadsheet cells. It only runs after a completed quick scan.
type DocumentTextKeyData struct{}

func (DocumentTextKeyData) Stage() domain.Stage { return domain.StageKeyDataFull }

func (DocumentTextKeyData) AppliesTo(doc domain.Document) bool {
	return doc.Scan.Phase == domain.PhaseCompleted && extractor.Supports(doc.Extension)
}

func (DocumentTextKeyData) Run(ctx context.Context, doc domain.Document, src ports.ContentSource) (domain.StageResult, error) {
	text, err := extractor.ReadAll(ctx, src, doc)
	if err != nil {
		return nil, err
	}
	return domain.KeyDataResult{Data: ExtractKeyData(text, domain.KeyDataFull)}, nil
}
