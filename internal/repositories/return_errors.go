package repositories

import (
	"fmt"

	domain "github.com/bazario/commerce-core/internal/domain"
)

// StateConflictError reports a compare-and-swap transition that found the
// return in a status outside the expected set.
type StateConflictError struct {
	ReturnID string
	Current  domain.ReturnStatus
	Expected []domain.ReturnStatus
}

// Error implements the error interface.
func (e *StateConflictError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("return %s: status %q does not allow this transition (expected one of %v)", e.ReturnID, e.Current, e.Expected)
}
