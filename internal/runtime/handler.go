package runtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Result is the structured outcome returned by a handler. It is stored on the job.
type Result map[string]any

// Skipped builds the result of a handler that had nothing to do.
// The entity goes back to the status it had before the job started.
func Skipped(reason string) Result {
	return Result{"skipped": true, "reason": reason}
}

func (r Result) IsSkipped() bool {
	skipped, _ := r["skipped"].(bool)
	return skipped
}

func (r Result) SkipReason() string {
	if reason, ok := r["reason"]; ok && reason != nil {
		if s := fmt.Sprint(reason); s != "" {
			return s
		}
	}
	return "not applicable"
}

// Handler performs the domain work of one stage for one entity.
// Handlers never touch the job store or the event log.
type Handler interface {
	Handle(ctx context.Context, entityID int64, params json.RawMessage) (Result, error)
}

type HandlerFunc func(ctx context.Context, entityID int64, params json.RawMessage) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, entityID int64, params json.RawMessage) (Result, error) {
	return f(ctx, entityID, params)
}
