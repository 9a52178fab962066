package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type ScanPhase string

const (
	PhaseQueued        ScanPhase = "queued"
	PhaseQuickScanning ScanPhase = "quick-scanning"
	PhaseCompleted     ScanPhase = "completed"
	PhaseError         ScanPhase = "error"
)

// CanTransition reports whether the phase machine allows moving from p to next.
// Phases only move forward: queued -> quick-scanning -> completed|error.
func (p ScanPhase) CanTransition(next ScanPhase) bool {
	switch p {
	case PhaseQueued:
		return next == PhaseQuickScanning
	case PhaseQuickScanning:
		return next == PhaseCompleted || next == PhaseError
	default:
		return false
	}
}

// Terminal reports whether the quick scan of a document has settled.
func (p ScanPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

type DocumentKind string

const (
	KindUnknown         DocumentKind = "unknown"
	KindInvoice         DocumentKind = "invoice"
	KindTicketReceipt   DocumentKind = "ticket_receipt"
	KindGeneralDocument DocumentKind = "general_document"
	KindTabularData     DocumentKind = "tabular_data"
	KindPresentation    DocumentKind = "presentation"
	KindContract        DocumentKind = "contract"
	KindPayroll         DocumentKind = "payroll"
	KindReport          DocumentKind = "report"
	KindLetter          DocumentKind = "letter"
	KindBankStatement   DocumentKind = "bank_statement"
	KindImage           DocumentKind = "image"
	KindOther           DocumentKind = "other"
)

// SourceRef is an opaque handle to externally owned content.
type SourceRef string

type ScanState struct {
	Phase          ScanPhase     `json:"phase"`
	EstimatedQuick time.Duration `json:"estimated_quick"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

type BasicMetadata struct {
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

type DeepMetadata struct {
	Author    string    `json:"author,omitempty"`
	Title     string    `json:"title,omitempty"`
	Software  string    `json:"software,omitempty"`
	Device    string    `json:"device,omitempty"`
	PageCount int       `json:"page_count,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Created   time.Time `json:"created,omitempty"`
	Modified  time.Time `json:"modified,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

type Metadata struct {
	Basic *BasicMetadata `json:"basic,omitempty"`
	Deep  *DeepMetadata  `json:"deep,omitempty"`
}

func (m Metadata) HasAny() bool {
	return m.Basic != nil || m.Deep != nil
}

type KeyDataDepth string

const (
	KeyDataNone  KeyDataDepth = ""
	KeyDataQuick KeyDataDepth = "quick"
	KeyDataFull  KeyDataDepth = "full"
)

type KeyData struct {
	Depth    KeyDataDepth `json:"depth,omitempty"`
	Names    []string     `json:"names"`
	RFCs     []string     `json:"rfcs"`
	Dates    []string     `json:"dates"`
	Amounts  []float64    `json:"amounts"`
	Keys     []string     `json:"keys"`
	Preview  string       `json:"preview,omitempty"`
	Language string       `json:"language,omitempty"`
}

// EmptyKeyData returns key data with non-nil, empty collections.
func EmptyKeyData() KeyData {
	return KeyData{
		Names:   []string{},
		RFCs:    []string{},
		Dates:   []string{},
		Amounts: []float64{},
		Keys:    []string{},
	}
}

func (k KeyData) clone() KeyData {
	out := k
	out.Names = append([]string{}, k.Names...)
	out.RFCs = append([]string{}, k.RFCs...)
	out.Dates = append([]string{}, k.Dates...)
	out.Amounts = append([]float64{}, k.Amounts...)
	out.Keys = append([]string{}, k.Keys...)
	return out
}

type Classification struct {
	Kind       DocumentKind `json:"kind"`
	Confidence float64      `json:"confidence"`
}

func UnknownClassification() Classification {
	return Classification{Kind: KindUnknown, Confidence: 0}
}

type OCRResult struct {
	Engine      string    `json:"engine"`
	HasText     bool      `json:"has_text"`
	TextPreview string    `json:"text_preview,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Document struct {
	ID               string           `json:"id"`
	FileName         string           `json:"file_name"`
	Extension        string           `json:"extension"`
	SizeBytes        int64            `json:"size_bytes"`
	IngestedAt       time.Time        `json:"ingested_at"`
	SourceModifiedAt time.Time        `json:"source_modified_at"`
	Source           SourceRef        `json:"source"`
	OCREligible      bool             `json:"ocr_eligible"`
	Scan             ScanState        `json:"scan"`
	Metadata         Metadata         `json:"metadata"`
	KeyData          KeyData          `json:"key_data"`
	Classification   Classification   `json:"classification"`
	OCR              *OCRResult       `json:"ocr,omitempty"`
	StageErrors      map[Stage]string `json:"stage_errors,omitempty"`
}

// NewDocument builds a queued document with its immutable facts fixed.
func NewDocument(id, fileName string, sizeBytes int64, modifiedAt time.Time, source SourceRef, now time.Time) Document {
	ext := ExtensionOf(fileName)
	return Document{
		ID:               id,
		FileName:         fileName,
		Extension:        ext,
		SizeBytes:        sizeBytes,
		IngestedAt:       now,
		SourceModifiedAt: modifiedAt,
		Source:           source,
		OCREligible:      IsOCREligible(ext),
		Scan: ScanState{
			Phase:          PhaseQueued,
			EstimatedQuick: EstimateQuickScan(sizeBytes),
		},
		KeyData:        EmptyKeyData(),
		Classification: UnknownClassification(),
	}
}

// Clone returns a deep copy so callers never share mutable state with the registry.
func (d Document) Clone() Document {
	out := d
	out.KeyData = d.KeyData.clone()
	if d.Metadata.Basic != nil {
		basic := *d.Metadata.Basic
		out.Metadata.Basic = &basic
	}
	if d.Metadata.Deep != nil {
		deep := *d.Metadata.Deep
		out.Metadata.Deep = &deep
	}
	if d.OCR != nil {
		ocr := *d.OCR
		out.OCR = &ocr
	}
	if d.StageErrors != nil {
		out.StageErrors = make(map[Stage]string, len(d.StageErrors))
		for k, v := range d.StageErrors {
			out.StageErrors[k] = v
		}
	}
	return out
}

// Transition moves the document to the next scan phase or returns ErrInvalidTransition.
func (d *Document) Transition(next ScanPhase, errMessage string) error {
	if !d.Scan.Phase.CanTransition(next) {
		return WrapError(ErrInvalidTransition, "scan transition", phaseError{from: d.Scan.Phase, to: next})
	}
	d.Scan.Phase = next
	d.Scan.ErrorMessage = errMessage
	return nil
}

func (d *Document) recordStageError(stage Stage, message string) {
	if d.StageErrors == nil {
		d.StageErrors = make(map[Stage]string)
	}
	d.StageErrors[stage] = message
}

func (d *Document) clearStageError(stage Stage) {
	delete(d.StageErrors, stage)
	if len(d.StageErrors) == 0 {
		d.StageErrors = nil
	}
}

// RecordStageFailure stores the last failure of an on-demand stage.
func (d *Document) RecordStageFailure(stage Stage, err error) {
	if err == nil {
		return
	}
	d.recordStageError(stage, err.Error())
}

func ExtensionOf(fileName string) string {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	return strings.ToLower(ext)
}

var ocrExtensions = map[string]struct{}{
	"pdf": {}, "jpg": {}, "jpeg": {}, "png": {}, "tif": {}, "tiff": {}, "webp": {},
}

func IsOCREligible(extension string) bool {
	_, ok := ocrExtensions[strings.ToLower(extension)]
	return ok
}

const (
	mebibyte = 1024 * 1024
)

// EstimateQuickScan is the size based cost guess shown before a document is admitted.
func EstimateQuickScan(sizeBytes int64) time.Duration {
	switch {
	case sizeBytes < mebibyte:
		return 300 * time.Millisecond
	case sizeBytes < 10*mebibyte:
		return time.Second
	default:
		return 3 * time.Second
	}
}

type phaseError struct {
	from ScanPhase
	to   ScanPhase
}

func (e phaseError) Error() string {
	return string(e.from) + " -> " + string(e.to)
}
