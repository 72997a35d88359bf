package validator

import (
	"fmt"
)

// ErrValidation carries the failed rules of a request body.
type ErrValidation struct {
	error
}

func NewErrValidation(format string, args ...any) *ErrValidation {
	return &ErrValidation{fmt.Errorf(format, args...)}
}
