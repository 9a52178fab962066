package analyzers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

type memSource map[domain.SourceRef][]byte

func (m memSource) Stat(_ context.Context, ref domain.SourceRef) (ports.SourceInfo, error) {
	raw, ok := m[ref]
	if !ok {
		return ports.SourceInfo{}, domain.WrapError(domain.ErrInvalidSource, "stat", fmt.Errorf("ref=%s", ref))
	}
	return ports.SourceInfo{Name: string(ref), SizeBytes: int64(len(raw)), ModifiedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}, nil
}

func (m memSource) Open(_ context.Context, ref domain.SourceRef) (io.ReadCloser, error) {
	raw, ok := m[ref]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidSource, "open", fmt.Errorf("ref=%s", ref))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

var fixedNow = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

func docFor(name string, size int) domain.Document {
	return domain.NewDocument("id-"+name, name, int64(size), time.Time{}, domain.SourceRef(name), time.Unix(0, 0).UTC())
}

func completed(doc domain.Document) domain.Document {
	doc.Scan.Phase = domain.PhaseCompleted
	doc.Metadata.Basic = &domain.BasicMetadata{MimeType: MimeType(doc.Extension)}
	return doc
}

const sampleText = "Factura emitida por Juan Perez Lopez RFC ABC010101AB1 fecha 2024-01-15 total 1,500.50 folio INV-2024-0001"

func TestExtractKeyData(t *testing.T) {
	data := ExtractKeyData(sampleText, domain.KeyDataQuick)

	if data.Depth != domain.KeyDataQuick {
		t.Fatalf("expected quick depth, got %q", data.Depth)
	}
	if len(data.RFCs) != 1 || data.RFCs[0] != "ABC010101AB1" {
		t.Fatalf("unexpected rfcs %v", data.RFCs)
	}
	if len(data.Dates) != 1 || data.Dates[0] != "2024-01-15" {
		t.Fatalf("unexpected dates %v", data.Dates)
	}
	if !containsFloat(data.Amounts, 1500.5) {
		t.Fatalf("expected 1500.5 among amounts, got %v", data.Amounts)
	}
	if len(data.Names) != 1 || data.Names[0] != "Juan Perez Lopez" {
		t.Fatalf("unexpected names %v", data.Names)
	}
	if !containsString(data.Keys, "INV-2024-0001") {
		t.Fatalf("expected folio among keys, got %v", data.Keys)
	}
	if data.Language != "es" {
		t.Fatalf("expected es, got %q", data.Language)
	}
}

func TestExtractKeyDataEmptyText(t *testing.T) {
	data := ExtractKeyData("   ", domain.KeyDataFull)
	if data.Names == nil || data.RFCs == nil || data.Amounts == nil {
		t.Fatalf("expected non-nil empty collections, got %+v", data)
	}
	if data.Preview != "" || data.Language != "" {
		t.Fatalf("expected no preview or language, got %+v", data)
	}
}

func TestPreviewCollapsesAndTruncates(t *testing.T) {
	got := Preview("  hola \n\t mundo  ")
	if got != "hola mundo" {
		t.Fatalf("unexpected preview %q", got)
	}
	long := strings.Repeat("á", 300)
	if n := len([]rune(Preview(long))); n != previewLength {
		t.Fatalf("expected %d runes, got %d", previewLength, n)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"Invoice total amount":     "en",
		"Contrato de pago mensual": "es",
		"lorem ipsum":              "other",
	}
	for in, want := range cases {
		if got := DetectLanguage(in); got != want {
			t.Fatalf("DetectLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegexKeyDataReadsTextFiles(t *testing.T) {
	src := memSource{"factura.txt": []byte(sampleText)}
	res, err := RegexKeyData{}.Run(context.Background(), docFor("factura.txt", len(sampleText)), src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data := res.(domain.KeyDataResult).Data
	if len(data.RFCs) != 1 {
		t.Fatalf("expected rfc extracted, got %+v", data)
	}
}

func TestRegexKeyDataIgnoresBinaryFiles(t *testing.T) {
	src := memSource{"photo.png": {0x89, 'P', 'N', 'G'}}
	res, err := RegexKeyData{}.Run(context.Background(), docFor("photo.png", 4), src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data := res.(domain.KeyDataResult).Data
	if data.Depth != domain.KeyDataQuick || len(data.RFCs) != 0 || data.Preview != "" {
		t.Fatalf("expected empty quick key data, got %+v", data)
	}
}

func TestDocumentTextKeyDataReadsWorkbook(t *testing.T) {
	raw := workbook(t)
	src := memSource{"ventas.xlsx": raw}
	doc := completed(docFor("ventas.xlsx", len(raw)))

	a := DocumentTextKeyData{}
	if !a.AppliesTo(doc) {
		t.Fatalf("expected full key data to apply to completed xlsx")
	}
	if a.AppliesTo(docFor("ventas.xlsx", len(raw))) {
		t.Fatalf("expected full key data to wait for the quick scan")
	}
	res, err := a.Run(context.Background(), doc, src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data := res.(domain.KeyDataResult).Data
	if data.Depth != domain.KeyDataFull || !containsString(data.RFCs, "XYZ020202XY2") {
		t.Fatalf("expected full key data from cells, got %+v", data)
	}
}

func TestRulesClassifierInvoiceBeatsWeakerSignals(t *testing.T) {
	c := NewRulesClassifier(ClassifierTerms{})

	strong := docFor("factura-enero.xml", 10)
	strong.KeyData = ExtractKeyData(sampleText, domain.KeyDataQuick)
	invoice := c.Classify(strong)
	if invoice.Kind != domain.KindInvoice || invoice.Confidence != 0.95 {
		t.Fatalf("expected invoice 0.95, got %+v", invoice)
	}

	noRFC := docFor("factura-enero.xml", 10)
	noRFC.KeyData = ExtractKeyData("Factura total 1,500.50", domain.KeyDataQuick)
	weaker := c.Classify(noRFC)

	neither := c.Classify(docFor("notas.pdf", 10))

	if !(invoice.Confidence > weaker.Confidence && invoice.Confidence > neither.Confidence) {
		t.Fatalf("expected factura+rfc to be most confident: %+v vs %+v vs %+v", invoice, weaker, neither)
	}
	if neither.Kind != domain.KindGeneralDocument || neither.Confidence != 0.50 {
		t.Fatalf("expected plain pdf general 0.50, got %+v", neither)
	}
}

func TestRulesClassifierNameAndRFCOutrankNeitherPerExtension(t *testing.T) {
	c := NewRulesClassifier(DefaultClassifierTerms())
	texts := map[string]string{
		"with amounts":    sampleText,
		"without amounts": "RFC ABC010101AB1",
	}
	for _, ext := range []string{"txt", "md", "xml", "csv", "pdf"} {
		for label, text := range texts {
			strong := docFor("factura-enero."+ext, 10)
			strong.KeyData = ExtractKeyData(text, domain.KeyDataQuick)
			if len(strong.KeyData.RFCs) == 0 {
				t.Fatalf("%s: fixture has no rfc", label)
			}
			got := c.Classify(strong)
			neither := c.Classify(docFor("notas."+ext, 10))
			if got.Confidence <= neither.Confidence {
				t.Fatalf("%s %s: factura+rfc %+v not above neither %+v", ext, label, got, neither)
			}
		}
	}
}

func TestRulesClassifierIgnoresExtensionAsTerm(t *testing.T) {
	c := NewRulesClassifier(DefaultClassifierTerms())
	got := c.Classify(docFor("notas.xml", 10))
	if got.Kind != domain.KindGeneralDocument || got.Confidence != 0.50 {
		t.Fatalf("expected plain xml general 0.50, got %+v", got)
	}
	got = c.Classify(docFor("notas.txt", 10))
	if got.Kind != domain.KindGeneralDocument {
		t.Fatalf("expected txt to be a general document, got %+v", got)
	}
}

func TestRulesClassifierKinds(t *testing.T) {
	c := NewRulesClassifier(DefaultClassifierTerms())
	withAmounts := func(name string) domain.Document {
		d := docFor(name, 10)
		d.KeyData.Amounts = []float64{10}
		return d
	}
	long := docFor("libro.pdf", 10)
	long.Metadata.Deep = &domain.DeepMetadata{PageCount: 120}

	cases := []struct {
		doc  domain.Document
		kind domain.DocumentKind
		conf float64
	}{
		{docFor("foto.jpg", 10), domain.KindTicketReceipt, 0.80},
		{withAmounts("ticket-compra.pdf"), domain.KindTicketReceipt, 0.80},
		{long, domain.KindGeneralDocument, 0.70},
		{withAmounts("ventas.xlsx"), domain.KindTabularData, 0.85},
		{docFor("ventas.csv", 10), domain.KindTabularData, 0.60},
		{docFor("deck.pptx", 10), domain.KindPresentation, 0.75},
		{docFor("contrato-arrendamiento.docx", 10), domain.KindContract, 0.85},
		{docFor("nomina-marzo.pdf", 10), domain.KindPayroll, 0.85},
		{docFor("reporte-q1.docx", 10), domain.KindReport, 0.85},
		{docFor("archivo.zip", 10), domain.KindUnknown, 0.40},
	}
	for _, tc := range cases {
		got := c.Classify(tc.doc)
		if got.Kind != tc.kind || got.Confidence != tc.conf {
			t.Fatalf("%s: expected %s %.2f, got %+v", tc.doc.FileName, tc.kind, tc.conf, got)
		}
	}
}

func TestRulesClassifierCustomTerms(t *testing.T) {
	c := NewRulesClassifier(ClassifierTerms{Contract: []string{"acuerdo"}})
	got := c.Classify(docFor("acuerdo-servicios.docx", 10))
	if got.Kind != domain.KindContract {
		t.Fatalf("expected custom contract term to match, got %+v", got)
	}
	got = c.Classify(docFor("reporte.docx", 10))
	if got.Kind != domain.KindReport {
		t.Fatalf("expected default report terms kept, got %+v", got)
	}
}

func TestClassifyByExtension(t *testing.T) {
	cases := map[string]domain.DocumentKind{
		"cfdi.xml":             domain.KindInvoice,
		"foto.png":             domain.KindImage,
		"datos.ods":            domain.KindTabularData,
		"notas.md":             domain.KindGeneralDocument,
		"factura-123.pdf":      domain.KindInvoice,
		"estado-de-cuenta.pdf": domain.KindBankStatement,
		"manual.pdf":           domain.KindGeneralDocument,
		"ticket.zip":           domain.KindTicketReceipt,
		"misc.bin":             domain.KindOther,
	}
	for name, want := range cases {
		if got := ClassifyByExtension(name, domain.ExtensionOf(name)); got.Kind != want {
			t.Fatalf("ClassifyByExtension(%q) = %s, want %s", name, got.Kind, want)
		}
	}
}

func TestFilesystemMetadata(t *testing.T) {
	src := memSource{"a.pdf": []byte("%PDF")}
	doc := docFor("a.pdf", 4)
	res, err := FilesystemMetadata{}.Run(context.Background(), doc, src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	basic := res.(domain.BasicMetadataResult).Basic
	if basic.MimeType != "application/pdf" || basic.SizeBytes != 4 {
		t.Fatalf("unexpected basic metadata %+v", basic)
	}
	if !basic.ModifiedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected source modification time, got %s", basic.ModifiedAt)
	}

	if _, err := (FilesystemMetadata{}).Run(context.Background(), docFor("gone.pdf", 1), src); !domain.IsKind(err, domain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestMimeTypeFallback(t *testing.T) {
	if got := MimeType("XLSX"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected xlsx mime %q", got)
	}
	if got := MimeType("zzz"); got != "application/octet-stream" {
		t.Fatalf("unexpected fallback %q", got)
	}
}

func TestDocumentPropertiesImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	src := memSource{"scan.png": buf.Bytes()}
	doc := completed(docFor("scan.png", buf.Len()))

	p := NewDocumentProperties(fixedNow)
	res, err := p.Run(context.Background(), doc, src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	deep := res.(domain.DeepMetadataResult).Deep
	if deep.Width != 3 || deep.Height != 2 || !deep.ScannedAt.Equal(fixedNow()) {
		t.Fatalf("unexpected deep metadata %+v", deep)
	}
}

func TestDocumentPropertiesWorkbook(t *testing.T) {
	raw := workbook(t)
	src := memSource{"ventas.xlsx": raw}
	res, err := NewDocumentProperties(fixedNow).Run(context.Background(), completed(docFor("ventas.xlsx", len(raw))), src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	deep := res.(domain.DeepMetadataResult).Deep
	if deep.Author != "Ana Ruiz" || deep.Title != "Ventas" || deep.PageCount != 1 {
		t.Fatalf("unexpected workbook metadata %+v", deep)
	}
}

// infoPDF builds a one-page PDF whose info dictionary carries author, title
// and both dates.
func infoPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>",
		"<< /Title (Factura enero) /Author (Ana Ruiz) /Producer (scanner) /CreationDate (D:20230405060708+00'00') /ModDate (D:20240102030405+00'00') >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestDocumentPropertiesPDFInfo(t *testing.T) {
	raw := infoPDF()
	src := memSource{"factura.pdf": raw}
	res, err := NewDocumentProperties(fixedNow).Run(context.Background(), completed(docFor("factura.pdf", len(raw))), src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	deep := res.(domain.DeepMetadataResult).Deep
	if deep.Author != "Ana Ruiz" || deep.Title != "Factura enero" || deep.Software != "scanner" || deep.PageCount != 1 {
		t.Fatalf("unexpected pdf metadata %+v", deep)
	}
	if !deep.Created.Equal(time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)) {
		t.Fatalf("unexpected creation date %s", deep.Created)
	}
	if !deep.Modified.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected modification date %s", deep.Modified)
	}
}

func TestDocumentPropertiesRequiresBasicMetadata(t *testing.T) {
	doc := docFor("a.pdf", 1)
	doc.Scan.Phase = domain.PhaseCompleted
	if NewDocumentProperties(nil).AppliesTo(doc) {
		t.Fatalf("expected deep metadata to require basic metadata")
	}
}

func TestParsePDFDate(t *testing.T) {
	got := parsePDFDate("D:20230405060708+02'00'")
	if !got.Equal(time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)) {
		t.Fatalf("unexpected date %s", got)
	}
	if !parsePDFDate("garbage").IsZero() {
		t.Fatalf("expected zero time for garbage")
	}
}

func TestOCRVariantsRespectEligibility(t *testing.T) {
	scan := completed(docFor("scan.png", 10))
	docx := completed(docFor("memo.docx", 10))
	queued := docFor("scan.png", 10)

	for _, a := range []ports.Analyzer{NewTextLayerOCR(fixedNow), NewPlaceholderOCR(fixedNow)} {
		if !a.AppliesTo(scan) || a.AppliesTo(docx) || a.AppliesTo(queued) {
			t.Fatalf("%T: unexpected eligibility", a)
		}
	}

	res, err := NewPlaceholderOCR(fixedNow).Run(context.Background(), scan, memSource{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	ocr := res.(domain.OCRUpdate).Result
	if ocr.Engine != VariantPlaceholder || !ocr.HasText || ocr.TextPreview == "" {
		t.Fatalf("unexpected placeholder result %+v", ocr)
	}

	res, err = NewTextLayerOCR(fixedNow).Run(context.Background(), scan, memSource{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ocr := res.(domain.OCRUpdate).Result; ocr.HasText || ocr.Engine != VariantTextLayer {
		t.Fatalf("expected image without text layer, got %+v", ocr)
	}
}

func TestBuildSelectsVariants(t *testing.T) {
	all, err := Build(DefaultSelection(), fixedNow)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(all) != len(domain.AllStages()) {
		t.Fatalf("expected one analyzer per stage, got %d", len(all))
	}

	sel := Selection{Classifier: VariantExtension, OCR: VariantDisabled, KeyDataFull: VariantDisabled}
	some, err := Build(sel, fixedNow)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(some) != 4 {
		t.Fatalf("expected 4 analyzers, got %d", len(some))
	}
	for _, a := range some {
		if a.Stage() == domain.StageClassifier {
			if _, ok := a.(ExtensionClassifier); !ok {
				t.Fatalf("expected extension classifier, got %T", a)
			}
		}
	}
}

func TestBuildRejectsUnknownOrRequiredDisabled(t *testing.T) {
	if _, err := Build(Selection{OCR: "tesseract"}, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown variant, got %v", err)
	}
	if _, err := Build(Selection{Classifier: VariantDisabled}, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for disabled quick stage, got %v", err)
	}
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", "Cliente"); err != nil {
		t.Fatalf("SetCellValue() error = %v", err)
	}
	if err := f.SetCellValue("Sheet1", "B1", "XYZ020202XY2"); err != nil {
		t.Fatalf("SetCellValue() error = %v", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Creator: "Ana Ruiz", Title: "Ventas"}); err != nil {
		t.Fatalf("SetDocProps() error = %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf.Bytes()
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func containsFloat(values []float64, want float64) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
