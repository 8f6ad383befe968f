package services

import (
	"errors"
	"fmt"

	"github.com/craftlink/api/internal/repositories"
)

var (
	// ErrValidation signals the caller provided invalid input or the target
	// record is not in a state that admits the operation.
	ErrValidation = errors.New("workflow: invalid input")
	// ErrAgreementIncomplete indicates acceptance was attempted while a used
	// negotiation still lacks one of the two confirmations.
	ErrAgreementIncomplete = errors.New("workflow: agreement incomplete")
	// ErrForbidden indicates the actor is not allowed to perform the operation.
	ErrForbidden = errors.New("workflow: forbidden")
	// ErrNotFound indicates the referenced record could not be located.
	ErrNotFound = errors.New("workflow: not found")
	// ErrConflict indicates a guarded write lost a race or a uniqueness rule fired.
	ErrConflict = errors.New("workflow: conflict")
	// ErrUpstreamFailure indicates the payment gateway rejected or failed the call.
	ErrUpstreamFailure = errors.New("workflow: upstream failure")
)

// mapRepositoryError translates categorised persistence failures into the
// workflow sentinel set. Unrecognised errors pass through untouched.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("workflow: repository unavailable: %w", err)
		}
	}

	return err
}
