package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidSource      = errors.New("invalid source")
	ErrUnsupportedContent = errors.New("unsupported content")
	ErrDuplicateIdentity  = errors.New("duplicate document identity")
	ErrInvalidTransition  = errors.New("invalid scan transition")
	ErrStaleResult        = errors.New("stale result")
	ErrStageInFlight      = errors.New("stage already in flight")
	ErrTemporary          = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
