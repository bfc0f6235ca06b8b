package export

import "errors"

var (
	// ErrInitialization is returned when the engine cannot be loaded.
	ErrInitialization = errors.New("engine initialization failed")

	// ErrNotInitialized is returned by Export before a successful Initialize.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrExportFailed wraps any failure while staging, running or collecting an export.
	ErrExportFailed = errors.New("export failed")

	// ErrInvalidOptions rejects unsupported export options or missing inputs.
	ErrInvalidOptions = errors.New("invalid export options")

	// ErrBusy is returned when an export is already in flight.
	ErrBusy = errors.New("export already in progress")
)

// User-facing messages recorded in Status.Error.
const (
	initFailureMessage   = "Failed to initialize video processor"
	exportFailureMessage = "Failed to export video. Please try again."
)
