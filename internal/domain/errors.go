package domain

import "errors"

var (
	// ErrMissingFile is returned when the upload has no file part
	ErrMissingFile = errors.New("no file part in the request")

	// ErrEmptyFilename is returned when the file part has no filename
	ErrEmptyFilename = errors.New("no file selected")

	// ErrInvalidFileType is returned when the upload is not a PDF
	ErrInvalidFileType = errors.New("invalid file type")

	// ErrFileTooLarge is returned when the upload exceeds the configured size
	ErrFileTooLarge = errors.New("file too large")

	// ErrDocumentUnreadable is returned when the PDF cannot be parsed
	ErrDocumentUnreadable = errors.New("document could not be parsed")

	// ErrNoStructuredData is returned when the model produced no rows for a product
	ErrNoStructuredData = errors.New("no structured data for product")

	// ErrModelOutputInvalid is returned when the hosted model output does not match the schema
	ErrModelOutputInvalid = errors.New("model output does not match the product schema")

	// ErrSearchFailure is returned when the web search request fails
	ErrSearchFailure = errors.New("search request failed")

	// ErrRemoteFunction is returned when the EAN remote function breaks its protocol
	ErrRemoteFunction = errors.New("remote function call failed")

	// ErrLockTimeout is returned when the pipeline lock cannot be acquired in time
	ErrLockTimeout = errors.New("timed out waiting for pipeline lock")

	// ErrInvalidIdentifier is returned when a name cannot be used safely in a query
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// IsClientError reports whether err was caused by bad client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingFile) ||
		errors.Is(err, ErrEmptyFilename) ||
		errors.Is(err, ErrInvalidFileType) ||
		errors.Is(err, ErrInvalidIdentifier)
}
