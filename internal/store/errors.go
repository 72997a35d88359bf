package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	// ErrConflict is returned when an active job already exists for the same stage and entity.
	ErrConflict = errors.New("an active job already exists for this stage and entity")
	// ErrInvalidState is returned when a job transition is attempted from the wrong state.
	ErrInvalidState = errors.New("job is not in the expected state")
)

// isUniqueViolation covers drivers whose errors are not translated by gorm.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// StorageUnavailable wraps a failure of the database itself, as opposed to a
// rejected operation. Callers propagate it and never retry internally.
type StorageUnavailable struct {
	Op  string
	Err error
}

func (e *StorageUnavailable) Error() string {
	return "storage unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageUnavailable) Unwrap() error {
	return e.Err
}

// Unavailable wraps err unless it is nil or already one of the store sentinel errors.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrRecordNotFound, ErrDuplicateKey, ErrConflict, ErrInvalidState} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var su *StorageUnavailable
	if errors.As(err, &su) {
		return err
	}
	return &StorageUnavailable{Op: op, Err: err}
}
