package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/infrastructure/analyzers"
)

// Profile selects analyzer variants. Example:
//
//	batch_size: 4
//	stages:
//	  classifier: extension
//	  ocr: disabled
//	classifier_terms:
//	  contract: [contrato, acuerdo]
type Profile struct {
	BatchSize int                       `yaml:"batch_size"`
	Stages    ProfileStages             `yaml:"stages"`
	Terms     analyzers.ClassifierTerms `yaml:"classifier_terms"`
}

type ProfileStages struct {
	MetadataBasic string `yaml:"metadata_basic"`
	MetadataDeep  string `yaml:"metadata_deep"`
	KeyDataQuick  string `yaml:"keydata_quick"`
	KeyDataFull   string `yaml:"keydata_full"`
	Classifier    string `yaml:"classifier"`
	OCR           string `yaml:"ocr"`
}

// LoadProfile reads the YAML profile at path. An empty path or a missing
// file yields the zero profile, which selects every default.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return Profile{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, nil
		}
		return Profile{}, fmt.Errorf("read analyzer profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, domain.WrapError(domain.ErrInvalidInput, "parse analyzer profile", err)
	}
	if p.BatchSize < 0 {
		return Profile{}, domain.WrapError(domain.ErrInvalidInput, "parse analyzer profile", fmt.Errorf("batch_size %d is negative", p.BatchSize))
	}
	return p, nil
}

func (p Profile) Selection() analyzers.Selection {
	return analyzers.Selection{
		MetadataBasic: p.Stages.MetadataBasic,
		MetadataDeep:  p.Stages.MetadataDeep,
		KeyDataQuick:  p.Stages.KeyDataQuick,
		KeyDataFull:   p.Stages.KeyDataFull,
		Classifier:    p.Stages.Classifier,
		OCR:           p.Stages.OCR,
		Terms:         p.Terms,
	}
}

// EffectiveBatchSize prefers the profile's batch size over the env value.
func (p Profile) EffectiveBatchSize(fromEnv int) int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	return fromEnv
}
