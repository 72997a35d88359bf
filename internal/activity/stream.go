package activity

import (
	"context"
	"time"

	"github.com/ocrbench/pipeline/internal/store/model"
)

// Stream pushes a full snapshot first, then one update after every recorded
// event and on each heartbeat. new_events carries the events after the cursor,
// starting at sinceID; with sinceID zero the cursor starts at the current tail.
// The channel is closed once ctx is done.
func (s *Service) Stream(ctx context.Context, sinceID int64) <-chan Update {
	out := make(chan Update, 1)
	wake, unsubscribe := s.eventLog.Subscribe()

	go func() {
		defer close(out)
		defer unsubscribe()

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()

		cursor := sinceID
		heartbeat := false
		for {
			more, ok := s.push(ctx, out, &cursor, heartbeat)
			if !ok {
				return
			}
			if more {
				heartbeat = false
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-wake:
				heartbeat = false
			case <-ticker.C:
				heartbeat = true
			}
		}
	}()

	return out
}

// push sends one update. more reports that the cursor is still behind the tail.
func (s *Service) push(ctx context.Context, out chan<- Update, cursor *int64, heartbeat bool) (more bool, ok bool) {
	snap, err := s.Snapshot(ctx, DefaultLimit)
	if err != nil {
		if ctx.Err() != nil {
			return false, false
		}
		s.log.Warnw("failed to build activity snapshot", "error", err)
		return false, true
	}

	var fresh model.EventList
	if *cursor <= 0 {
		*cursor = snap.LastEventID
	} else if *cursor < snap.LastEventID {
		fresh, err = s.eventLog.Recent(ctx, MaxLimit, *cursor)
		if err != nil {
			if ctx.Err() != nil {
				return false, false
			}
			s.log.Warnw("failed to read new events", "cursor", *cursor, "error", err)
			return false, true
		}
	}

	paths := map[int64]*string{}
	if len(fresh) > 0 {
		ids := make([]int64, 0, len(fresh))
		for _, e := range fresh {
			if e.EntityID != nil {
				ids = append(ids, *e.EntityID)
			}
		}
		if paths, err = s.relPaths(ctx, ids); err != nil {
			s.log.Warnw("failed to resolve event pages", "error", err)
			paths = map[int64]*string{}
		}
		*cursor = fresh[len(fresh)-1].ID
	}

	update := Update{Snapshot: snap, NewEvents: viewEvents(fresh, paths), Heartbeat: heartbeat}
	select {
	case out <- update:
	case <-ctx.Done():
		return false, false
	}
	return len(fresh) == MaxLimit, true
}
