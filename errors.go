package autospg

import "errors"

var (
	// ErrDocumentNotFound is returned when a document path has not been processed.
	ErrDocumentNotFound = errors.New("autospg: document not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("autospg: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("autospg: parsing failed")

	// ErrEmptyDocument is returned when a document yields no usable text.
	ErrEmptyDocument = errors.New("autospg: document contains no extractable text")

	// ErrExtractionFailed is returned when the LLM extraction pass fails entirely.
	ErrExtractionFailed = errors.New("autospg: extraction failed")

	// ErrImportFailed is returned when a schema import cannot be applied.
	// The live graph is left untouched.
	ErrImportFailed = errors.New("autospg: schema import failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("autospg: invalid configuration")
)
