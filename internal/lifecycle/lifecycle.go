// Package lifecycle holds the page status state machine.
//
// Statuses advance along new, layout_detecting, layout_detected,
// layout_reviewed, ocr_done and ocr_reviewed. Every (status, event) pair that
// is not in the table is rejected. Failures are not events: the runtime
// restores the status captured when the job started.
package lifecycle

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusNew             Status = "new"
	StatusLayoutDetecting Status = "layout_detecting"
	StatusLayoutDetected  Status = "layout_detected"
	StatusLayoutReviewed  Status = "layout_reviewed"
	StatusOCRDone         Status = "ocr_done"
	StatusOCRReviewed     Status = "ocr_reviewed"
)

var statuses = []Status{
	StatusNew,
	StatusLayoutDetecting,
	StatusLayoutDetected,
	StatusLayoutReviewed,
	StatusOCRDone,
	StatusOCRReviewed,
}

type Event string

const (
	EventLayoutStarted   Event = "layout_started"
	EventLayoutSucceeded Event = "layout_succeeded"
	EventLayoutEdited    Event = "layout_edited"
	EventLayoutReviewed  Event = "layout_reviewed"
	EventOCRStarted      Event = "ocr_started"
	EventOCRSucceeded    Event = "ocr_succeeded"
	EventOCRReviewed     Event = "ocr_reviewed"
)

var ErrIllegalTransition = errors.New("illegal status transition")

type transitionKey struct {
	from  Status
	event Event
}

var transitions = map[transitionKey]Status{
	{StatusNew, EventLayoutStarted}:             StatusLayoutDetecting,
	{StatusLayoutDetecting, EventLayoutStarted}: StatusLayoutDetecting,
	{StatusLayoutDetected, EventLayoutStarted}:  StatusLayoutDetecting,

	{StatusLayoutDetecting, EventLayoutSucceeded}: StatusLayoutDetected,

	{StatusNew, EventLayoutEdited}:             StatusLayoutDetected,
	{StatusLayoutDetecting, EventLayoutEdited}: StatusLayoutDetected,
	{StatusLayoutDetected, EventLayoutEdited}:  StatusLayoutDetected,
	{StatusLayoutReviewed, EventLayoutEdited}:  StatusLayoutReviewed,

	{StatusLayoutDetected, EventLayoutReviewed}: StatusLayoutReviewed,
	{StatusLayoutReviewed, EventLayoutReviewed}: StatusLayoutReviewed,

	{StatusLayoutReviewed, EventOCRStarted}:   StatusLayoutReviewed,
	{StatusLayoutReviewed, EventOCRSucceeded}: StatusOCRDone,

	{StatusOCRDone, EventOCRReviewed}: StatusOCRReviewed,
}

// Next returns the status reached by applying event to from.
func Next(from Status, event Event) (Status, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, from)
	}
	return to, nil
}

// Can reports whether event is accepted in status from.
func Can(from Status, event Event) bool {
	_, ok := transitions[transitionKey{from, event}]
	return ok
}

func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown page status %q", s)
}

func Statuses() []Status {
	return append([]Status{}, statuses...)
}

func (s Status) String() string {
	return string(s)
}
