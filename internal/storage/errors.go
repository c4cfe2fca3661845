package storage

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrDocumentNotFound is returned by Load for a document that was never written.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnchanged is returned from an UpdateFunc to skip the write.
	ErrUnchanged = errors.New("document unchanged")

	// ErrCorruptDocument marks stored content that cannot be decoded.
	ErrCorruptDocument = errors.New("corrupt document")
)

// CorruptDocumentError carries the document name and the decode failure.
type CorruptDocumentError struct {
	Name string
	Err  error
}

func (e *CorruptDocumentError) Error() string {
	return fmt.Sprintf("document %q is corrupt: %v", e.Name, e.Err)
}

func (e *CorruptDocumentError) Unwrap() error {
	return e.Err
}

func (e *CorruptDocumentError) Is(target error) bool {
	return target == ErrCorruptDocument
}

var documentNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// validateName keeps document names usable as file names, table keys and
// Firestore document IDs.
func validateName(name string) error {
	if !documentNamePattern.MatchString(name) {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}
