// Package apperr defines the sentinel errors shared across the library.
package apperr

import "errors"

var (
	// ErrDocumentNotFound is returned when retrieval finds no record, or a
	// record that carries no behaviours and therefore cannot be hydrated.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUpgradeFailed is returned when applying a newer type version onto an
	// existing document fails. The document is left at its previous version.
	ErrUpgradeFailed = errors.New("document upgrade failed")

	// ErrSendFailed is returned when remote delivery of a change batch fails.
	// Queued records are kept for the next drain pass.
	ErrSendFailed = errors.New("send changes failed")

	// ErrCancelled is returned by a background task that was terminated
	// before completing its scan.
	ErrCancelled = errors.New("task cancelled")

	// ErrTypeNotFound is returned when a document type id resolves to nothing.
	ErrTypeNotFound = errors.New("document type not found")
)
