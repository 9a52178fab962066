package domain

import "fmt"

type Stage string

const (
	StageMetadataBasic Stage = "metadata-basic"
	StageMetadataDeep  Stage = "metadata-deep"
	StageKeyDataQuick  Stage = "keydata-quick"
	StageKeyDataFull   Stage = "keydata-full"
	StageClassifier    Stage = "classifier"
	StageOCR           Stage = "ocr"
)

var allStages = []Stage{
	StageMetadataBasic,
	StageMetadataDeep,
	StageKeyDataQuick,
	StageKeyDataFull,
	StageClassifier,
	StageOCR,
}

func AllStages() []Stage {
	return append([]Stage(nil), allStages...)
}

func ParseStage(raw string) (Stage, error) {
	for _, stage := range allStages {
		if string(stage) == raw {
			return stage, nil
		}
	}
	return "", WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("unknown stage %q", raw))
}

// StageResult is the typed partial update produced by one analyzer run.
// ApplyTo writes only the fields owned by the producing stage and replaces
// them wholesale, so re-running a stage never merges stale and fresh data.
type StageResult interface {
	Stage() Stage
	ApplyTo(doc *Document)
}

type BasicMetadataResult struct {
	Basic BasicMetadata
}

func (r BasicMetadataResult) Stage() Stage { return StageMetadataBasic }

func (r BasicMetadataResult) ApplyTo(doc *Document) {
	basic := r.Basic
	doc.Metadata.Basic = &basic
	doc.clearStageError(StageMetadataBasic)
}

type DeepMetadataResult struct {
	Deep DeepMetadata
}

func (r DeepMetadataResult) Stage() Stage { return StageMetadataDeep }

func (r DeepMetadataResult) ApplyTo(doc *Document) {
	deep := r.Deep
	doc.Metadata.Deep = &deep
	doc.clearStageError(StageMetadataDeep)
}

type KeyDataResult struct {
	Data KeyData
}

func (r KeyDataResult) Stage() Stage {
	if r.Data.Depth == KeyDataFull {
		return StageKeyDataFull
	}
	return StageKeyDataQuick
}

func (r KeyDataResult) ApplyTo(doc *Document) {
	data := r.Data.clone()
	if data.Depth == KeyDataNone {
		data.Depth = KeyDataQuick
	}
	doc.KeyData = data
	doc.clearStageError(r.Stage())
}

type ClassificationResult struct {
	Classification Classification
}

func (r ClassificationResult) Stage() Stage { return StageClassifier }

func (r ClassificationResult) ApplyTo(doc *Document) {
	cls := r.Classification
	if cls.Kind == "" {
		cls.Kind = KindUnknown
	}
	cls.Confidence = ClampConfidence(cls.Confidence)
	doc.Classification = cls
	doc.clearStageError(StageClassifier)
}

type OCRUpdate struct {
	Result OCRResult
}

func (r OCRUpdate) Stage() Stage { return StageOCR }

func (r OCRUpdate) ApplyTo(doc *Document) {
	if !doc.OCREligible {
		return
	}
	res := r.Result
	doc.OCR = &res
	doc.clearStageError(StageOCR)
}

func ClampConfidence(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// StageOutcome reports what an on-demand stage invocation did to a document.
type StageOutcome struct {
	Stage    Stage    `json:"stage"`
	Document Document `json:"document"`
	Applied  bool     `json:"applied"`
	Skipped  bool     `json:"skipped"`
	Failure  string   `json:"failure,omitempty"`
}
