package runtime

import (
	"errors"
	"fmt"

	"github.com/ocrbench/pipeline/internal/store"
)

var (
	// ErrConflict means an active job already exists for the stage and entity.
	// Submit absorbs it.
	ErrConflict = store.ErrConflict
	// ErrInvalidState means a job was asked to leave a state it is not in.
	ErrInvalidState          = store.ErrInvalidState
	ErrUnknownStage          = errors.New("unknown stage")
	ErrDuplicateRegistration = errors.New("stage already registered")
	ErrInvalidParams         = errors.New("invalid stage params")
)

type StorageUnavailable = store.StorageUnavailable

// HandlerFailure is a handler error or panic, contained by the scheduler.
// Its message is the handler's error text verbatim.
type HandlerFailure struct {
	Stage string
	JobID int64
	Err   error
}

func (e *HandlerFailure) Error() string {
	return e.Err.Error()
}

func (e *HandlerFailure) Unwrap() error {
	return e.Err
}

func unknownStage(stage string) error {
	return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
}
