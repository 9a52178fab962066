// Package analyzers holds the stage processor variants and selects them by name.
package analyzers

import (
	"fmt"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

const (
	VariantFilesystem         = "filesystem"
	VariantDocumentProperties = "document-properties"
	VariantRegex              = "regex"
	VariantDocumentText       = "document-text"
	VariantRules              = "rules"
	VariantExtension          = "extension"
	VariantTextLayer          = "text-layer"
	VariantPlaceholder        = "placeholder"
	// VariantDisabled leaves an on-demand stage without an analyzer.
	VariantDisabled = "disabled"
)

// Selection names the variant for each stage. Empty names pick the default.
type Selection struct {
	MetadataBasic string
	MetadataDeep  string
	KeyDataQuick  string
	KeyDataFull   string
	Classifier    string
	OCR           string
	Terms         ClassifierTerms
}

func DefaultSelection() Selection {
	return Selection{
		MetadataBasic: VariantFilesystem,
		MetadataDeep:  VariantDocumentProperties,
		KeyDataQuick:  VariantRegex,
		KeyDataFull:   VariantDocumentText,
		Classifier:    VariantRules,
		OCR:           VariantTextLayer,
		Terms:         DefaultClassifierTerms(),
	}
}

// Build instantiates the selected analyzers, one per enabled stage.
func Build(sel Selection, now func() time.Time) ([]ports.Analyzer, error) {
	if now == nil {
		now = time.Now
	}
	def := DefaultSelection()

	out := make([]ports.Analyzer, 0, len(domain.AllStages()))
	add := func(stage domain.Stage, name, fallback string, variants map[string]func() ports.Analyzer, optional bool) error {
		if name == "" {
			name = fallback
		}
		if name == VariantDisabled {
			if !optional {
				return domain.WrapError(domain.ErrInvalidInput, "build analyzers", fmt.Errorf("stage %s cannot be disabled", stage))
			}
			return nil
		}
		build, ok := variants[name]
		if !ok {
			return domain.WrapError(domain.ErrInvalidInput, "build analyzers", fmt.Errorf("unknown %s variant %q", stage, name))
		}
		out = append(out, build())
		return nil
	}

	steps := []struct {
		stage    domain.Stage
		name     string
		fallback string
		variants map[string]func() ports.Analyzer
		optional bool
	}{
		{domain.StageMetadataBasic, sel.MetadataBasic, def.MetadataBasic, map[string]func() ports.Analyzer{
			VariantFilesystem: func() ports.Analyzer { return FilesystemMetadata{} },
		}, false},
		{domain.StageMetadataDeep, sel.MetadataDeep, def.MetadataDeep, map[string]func() ports.Analyzer{
			VariantDocumentProperties: func() ports.Analyzer { return NewDocumentProperties(now) },
		}, true},
		{domain.StageKeyDataQuick, sel.KeyDataQuick, def.KeyDataQuick, map[string]func() ports.Analyzer{
			VariantRegex: func() ports.Analyzer { return RegexKeyData{} },
		}, false},
		{domain.StageKeyDataFull, sel.KeyDataFull, def.KeyDataFull, map[string]func() ports.Analyzer{
			VariantDocumentText: func() ports.Analyzer { return DocumentTextKeyData{} },
		}, true},
		{domain.StageClassifier, sel.Classifier, def.Classifier, map[string]func() ports.Analyzer{
			VariantRules:     func() ports.Analyzer { return NewRulesClassifier(sel.Terms) },
			VariantExtension: func() ports.Analyzer { return ExtensionClassifier{} },
		}, false},
		{domain.StageOCR, sel.OCR, def.OCR, map[string]func() ports.Analyzer{
			VariantTextLayer:   func() ports.Analyzer { return NewTextLayerOCR(now) },
			VariantPlaceholder: func() ports.Analyzer { return NewPlaceholderOCR(now) },
		}, true},
	}
	for _, step := range steps {
		if err := add(step.stage, step.name, step.fallback, step.variants, step.optional); err != nil {
			return nil, err
		}
	}
	return out, nil
}
