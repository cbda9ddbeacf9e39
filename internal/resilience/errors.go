package resilience

import (
	"errors"
	"fmt"
)

// Error is the only failure shape that leaves the executor.
type Error struct {
	Category Category
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (attempts: %d)", e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (attempts: %d): %v", e.Category, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf extracts the category of err, or Unknown when err was never
// classified. A nil error has no category.
func CategoryOf(err error) Category {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) && re.Category != nil {
		return re.Category
	}
	return Unknown{}
}
