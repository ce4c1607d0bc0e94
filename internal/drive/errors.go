package drive

import (
	"errors"
	"fmt"
)

// ErrTransient indicates a fetch failure that is not an access problem:
// network errors, 5xx responses, or anything else both tiers reported
// without a definitive 403/404. Retrying later may succeed.
var ErrTransient = errors.New("transient download failure")

// PermissionError indicates both fetch tiers were denied access to the
// document. Not retryable; the file id or sharing settings need fixing.
type PermissionError struct {
	// Status is the last HTTP status observed (403 or 404).
	Status int
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf(
		"failed to download file: %d: check fileId and sharing settings (is it public or in a Shared Drive?)",
		e.Status,
	)
}
