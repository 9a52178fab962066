package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type MetadataPresence string

const (
	MetadataAny MetadataPresence = "all"
	MetadataYes MetadataPresence = "yes"
	MetadataNo  MetadataPresence = "no"
)

type SizeBucket string

const (
	SizeAny    SizeBucket = "all"
	SizeSmall  SizeBucket = "small"
	SizeMedium SizeBucket = "medium"
	SizeLarge  SizeBucket = "large"
)

// KindAll matches every document kind.
const KindAll DocumentKind = "all"

// Filter is an immutable query value. The zero value matches everything.
type Filter struct {
	Search      string           `json:"search"`
	Kind        DocumentKind     `json:"kind"`
	HasMetadata MetadataPresence `json:"has_metadata"`
	SizeBucket  SizeBucket       `json:"size_bucket"`
}

func DefaultFilter() Filter {
	return Filter{Kind: KindAll, HasMetadata: MetadataAny, SizeBucket: SizeAny}
}

// Normalize fills empty fields with their "all" values and validates the enums.
func (f Filter) Normalize() (Filter, error) {
	out := f
	out.Search = strings.TrimSpace(out.Search)
	if out.Kind == "" {
		out.Kind = KindAll
	}
	switch out.HasMetadata {
	case "":
		out.HasMetadata = MetadataAny
	case MetadataAny, MetadataYes, MetadataNo:
	default:
		return Filter{}, WrapError(ErrInvalidInput, "normalize filter", fmt.Errorf("unknown has_metadata value %q", out.HasMetadata))
	}
	switch out.SizeBucket {
	case "":
		out.SizeBucket = SizeAny
	case SizeAny, SizeSmall, SizeMedium, SizeLarge:
	default:
		return Filter{}, WrapError(ErrInvalidInput, "normalize filter", fmt.Errorf("unknown size_bucket value %q", out.SizeBucket))
	}
	return out, nil
}

func (f Filter) Matches(doc Document) bool {
	if f.Search != "" && !matchesSearch(doc, strings.ToLower(f.Search)) {
		return false
	}
	if f.Kind != "" && f.Kind != KindAll && doc.Classification.Kind != f.Kind {
		return false
	}
	switch f.HasMetadata {
	case MetadataYes:
		if !doc.Metadata.HasAny() {
			return false
		}
	case MetadataNo:
		if doc.Metadata.HasAny() {
			return false
		}
	}
	switch f.SizeBucket {
	case SizeSmall:
		return doc.SizeBytes <= mebibyte
	case SizeMedium:
		return doc.SizeBytes > mebibyte && doc.SizeBytes <= 10*mebibyte
	case SizeLarge:
		return doc.SizeBytes > 10*mebibyte
	}
	return true
}

func matchesSearch(doc Document, needle string) bool {
	if strings.Contains(strings.ToLower(doc.FileName), needle) {
		return true
	}
	for _, group := range [][]string{doc.KeyData.Names, doc.KeyData.RFCs, doc.KeyData.Dates, doc.KeyData.Keys} {
		for _, v := range group {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
	}
	for _, amount := range doc.KeyData.Amounts {
		if strings.Contains(strconv.FormatFloat(amount, 'f', -1, 64), needle) {
			return true
		}
	}
	return false
}
