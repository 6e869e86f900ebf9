package jobs

import (
	"errors"
	"fmt"

	"transcribe-multilingual/internal/domain"
)

// ErrInvalidTransition is returned when a status change breaks the state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// transition validates a job or file status change.
func transition(kind, id string, from, to domain.Status) error {
	if from == to {
		return nil
	}
	if !isValidTransition(from, to) {
		return fmt.Errorf("%s %s: %w: %s -> %s", kind, id, ErrInvalidTransition, from, to)
	}
	return nil
}

// isValidTransition enforces the allowed state machine edges shared by jobs and files.
func isValidTransition(from, to domain.Status) bool {
	switch from {
	case domain.StatusQueued:
		return to == domain.StatusRunning || to == domain.StatusCancelled
	case domain.StatusRunning:
		return to == domain.StatusCompleted || to == domain.StatusFailed || to == domain.StatusCancelled
	default:
		return false
	}
}
