package service

import (
	"fmt"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id int64, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %d not found", resourceType, id)}
}

func NewErrPageNotFound(id int64) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "page")
}

func NewErrLayoutNotFound(id int64) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "layout")
}

func NewErrImageNotFound(pageID int64) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("image file for page %d not found", pageID)}
}

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(message string) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf("%s", message)}
}

func NewErrPageMissing(pageID int64, action string) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf("page %d is marked as missing and cannot be %s", pageID, action)}
}

// ErrStatusConflict reports an action the page lifecycle does not allow in its current status.
type ErrStatusConflict struct {
	error
}

func NewErrStatusConflict(pageID int64, cause error) *ErrStatusConflict {
	return &ErrStatusConflict{fmt.Errorf("page %d: %w", pageID, cause)}
}

func (e *ErrStatusConflict) Unwrap() error {
	return e.error
}
