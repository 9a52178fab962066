package analyzers

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

// ClassifierTerms are the lower-case words looked for in the file name and
// extracted text.
type ClassifierTerms struct {
	Invoice  []string `yaml:"invoice"`
	Ticket   []string `yaml:"ticket"`
	Contract []string `yaml:"contract"`
	Payroll  []string `yaml:"payroll"`
	Report   []string `yaml:"report"`
}

func DefaultClassifierTerms() ClassifierTerms {
	return ClassifierTerms{
		Invoice:  []string{"factura", "cfdi", "invoice"},
		Ticket:   []string{"ticket", "compra", "caja", "recibo"},
		Contract: []string{"contrato", "contract"},
		Payroll:  []string{"nomina", "nómina", "payroll"},
		Report:   []string{"reporte", "report"},
	}
}

// withDefaults fills empty term lists so a partial profile keeps the rest.
func (t ClassifierTerms) withDefaults() ClassifierTerms {
	def := DefaultClassifierTerms()
	if len(t.Invoice) == 0 {
		t.Invoice = def.Invoice
	}
	if len(t.Ticket) == 0 {
		t.Ticket = def.Ticket
	}
	if len(t.Contract) == 0 {
		t.Contract = def.Contract
	}
	if len(t.Payroll) == 0 {
		t.Payroll = def.Payroll
	}
	if len(t.Report) == 0 {
		t.Report = def.Report
	}
	return t
}

const longDocumentPages = 20

// RulesClassifier layers extension rules with key-data signals.
type RulesClassifier struct {
	terms ClassifierTerms
}

func NewRulesClassifier(terms ClassifierTerms) RulesClassifier {
	return RulesClassifier{terms: terms.withDefaults()}
}

func (RulesClassifier) Stage() domain.Stage { return domain.StageClassifier }

func (RulesClassifier) AppliesTo(domain.Document) bool { return true }

func (c RulesClassifier) Run(_ context.Context, doc domain.Document, _ ports.ContentSource) (domain.StageResult, error) {
	return domain.ClassificationResult{Classification: c.Classify(doc)}, nil
}

// Classify is deterministic over the document's extension, name, key data and deep metadata.
func (c RulesClassifier) Classify(doc domain.Document) domain.Classification {
	ext := strings.ToLower(doc.Extension)
	hasRFC := len(doc.KeyData.RFCs) > 0
	hasAmounts := len(doc.KeyData.Amounts) > 0
	pageCount := 0
	if doc.Metadata.Deep != nil {
		pageCount = doc.Metadata.Deep.PageCount
	}

	base := baseKind(ext)
	signals := signalText(doc)
	invoiceWords := containsAny(signals, c.terms.Invoice)
	ticketWords := containsAny(signals, c.terms.Ticket)

	switch {
	case (ext == "xml" || ext == "pdf") && hasRFC && hasAmounts && (invoiceWords || ext == "xml"):
		return domain.Classification{Kind: domain.KindInvoice, Confidence: 0.95}
	case base == domain.KindImage || (ext == "pdf" && ticketWords && hasAmounts):
		return domain.Classification{Kind: domain.KindTicketReceipt, Confidence: 0.80}
	case pageCount > longDocumentPages && !hasRFC && !hasAmounts && ext == "pdf":
		return domain.Classification{Kind: domain.KindGeneralDocument, Confidence: 0.70}
	case hasRFC && invoiceWords && (base == domain.KindGeneralDocument || base == domain.KindTabularData):
		if hasAmounts {
			return domain.Classification{Kind: domain.KindInvoice, Confidence: 0.90}
		}
		return domain.Classification{Kind: domain.KindInvoice, Confidence: 0.80}
	case base == domain.KindTabularData:
		if hasAmounts {
			return domain.Classification{Kind: domain.KindTabularData, Confidence: 0.85}
		}
		return domain.Classification{Kind: domain.KindTabularData, Confidence: 0.60}
	case base == domain.KindPresentation:
		return domain.Classification{Kind: domain.KindPresentation, Confidence: 0.75}
	case base == domain.KindGeneralDocument:
		switch {
		case containsAny(signals, c.terms.Contract):
			return domain.Classification{Kind: domain.KindContract, Confidence: 0.85}
		case containsAny(signals, c.terms.Payroll):
			return domain.Classification{Kind: domain.KindPayroll, Confidence: 0.85}
		case containsAny(signals, c.terms.Report):
			return domain.Classification{Kind: domain.KindReport, Confidence: 0.85}
		case invoiceWords:
			return domain.Classification{Kind: domain.KindGeneralDocument, Confidence: 0.60}
		default:
			return domain.Classification{Kind: domain.KindGeneralDocument, Confidence: 0.50}
		}
	}
	return domain.Classification{Kind: base, Confidence: 0.40}
}

func baseKind(ext string) domain.DocumentKind {
	switch ext {
	case "xml", "pdf", "doc", "docx", "odt", "rtf", "txt", "md", "log":
		return domain.KindGeneralDocument
	case "jpg", "jpeg", "png", "webp", "tiff":
		return domain.KindImage
	case "xls", "xlsx", "csv":
		return domain.KindTabularData
	case "ppt", "pptx":
		return domain.KindPresentation
	default:
		return domain.KindUnknown
	}
}

// signalText joins the searchable text. The file name loses its extension so
// an extension never reads as a term.
func signalText(doc domain.Document) string {
	stem := strings.TrimSuffix(doc.FileName, filepath.Ext(doc.FileName))
	parts := []string{stem, doc.KeyData.Preview}
	parts = append(parts, doc.KeyData.Keys...)
	parts = append(parts, doc.KeyData.Names...)
	if doc.OCR != nil {
		parts = append(parts, doc.OCR.TextPreview)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// ExtensionClassifier infers the kind from the extension and file name only.
type ExtensionClassifier struct{}

func (ExtensionClassifier) Stage() domain.Stage { return domain.StageClassifier }

func (ExtensionClassifier) AppliesTo(domain.Document) bool { return true }

func (ExtensionClassifier) Run(_ context.Context, doc domain.Document, _ ports.ContentSource) (domain.StageResult, error) {
	return domain.ClassificationResult{Classification: ClassifyByExtension(doc.FileName, doc.Extension)}, nil
}

var bankTerms = []string{"estado", "cuenta", "bank", "bbva", "santander", "banamex", "hsbc", "banorte", "scotiabank", "amex", "american express"}

func ClassifyByExtension(fileName, extension string) domain.Classification {
	ext := strings.TrimPrefix(strings.ToLower(extension), ".")
	name := strings.ToLower(fileName)

	switch ext {
	case "xml":
		return domain.Classification{Kind: domain.KindInvoice, Confidence: 0.60}
	case "jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff":
		return domain.Classification{Kind: domain.KindImage, Confidence: 0.60}
	case "csv", "xls", "xlsx", "ods", "numbers":
		return domain.Classification{Kind: domain.KindTabularData, Confidence: 0.60}
	case "txt", "md", "log", "rtf":
		return domain.Classification{Kind: domain.KindGeneralDocument, Confidence: 0.40}
	case "pdf":
		switch {
		case containsAny(name, []string{"factura", "cfdi", "recibo", "invoice"}):
			return domain.Classification{Kind: domain.KindInvoice, Confidence: 0.70}
		case containsAny(name, bankTerms):
			return domain.Classification{Kind: domain.KindBankStatement, Confidence: 0.70}
		default:
			return domain.Classification{Kind: domain.KindGeneralDocument, Confidence: 0.50}
		}
	}
	if containsAny(name, []string{"ticket", "compra"}) {
		return domain.Classification{Kind: domain.KindTicketReceipt, Confidence: 0.50}
	}
	return domain.Classification{Kind: domain.KindOther, Confidence: 0.20}
}
