// errors.go defines the workflow-level error types. These are the errors the API
// layer branches on to choose HTTP status codes; lower-level failures (storage,
// database, platform) pass through wrapped in their own packages' types.
package services

import (
	"errors"
	"fmt"
)

// ErrNoValidEntries is returned by Ingest when the manifest parsed cleanly but
// yielded zero acceptable rows.
var ErrNoValidEntries = errors.New("manifest contains no valid entries")

// NotFoundError is returned when an operation targets a docid that was never
// registered.
type NotFoundError struct {
	DocID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no template entry registered for docid %q", e.DocID)
}

// NotConvertedError is returned by Deploy when the entry exists but has no
// stored conversion artifact yet.
type NotConvertedError struct {
	DocID string
}

func (e *NotConvertedError) Error() string {
	return fmt.Sprintf("template entry %q has not been converted yet", e.DocID)
}

// ValidationError is returned when an entry's metadata cannot be resolved into
// a deployable template definition.
type ValidationError struct {
	DocID  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("template entry %q failed validation: %s", e.DocID, e.Reason)
}
