package v1alpha1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ocrbench/pipeline/internal/activity"
	"github.com/ocrbench/pipeline/internal/service"
	"github.com/ocrbench/pipeline/pkg/metrics"
	"github.com/ocrbench/pipeline/pkg/requestid"
	"go.uber.org/zap"
)

const (
	sseEventName  = "activity"
	wsWriteWait   = 10 * time.Second
	wsReadLimit   = 512
	wsBufferBytes = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferBytes,
	WriteBufferSize: wsBufferBytes,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// (GET /api/pipeline/activity)
func (h *ServiceHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, service.NewErrInvalidInput(fmt.Sprintf("invalid limit %q", raw)))
			return
		}
		limit = v
	}

	snap, err := h.activitySrv.Snapshot(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, snap)
}

// (GET /api/pipeline/activity/stream)
func (h *ServiceHandler) StreamActivity(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		zap.S().Named("handlers").Warnw("activity stream cannot flush", "error", err)
		return
	}

	id := subscriberID(r)
	metrics.LiveSubscribers.Add(id)
	defer metrics.LiveSubscribers.Remove(id)

	cursor := parseSinceID(r)
	for update := range h.activitySrv.Stream(r.Context(), cursor) {
		cursor = advanceCursor(cursor, update)

		data, err := json.Marshal(update)
		if err != nil {
			zap.S().Named("handlers").Errorw("failed to encode activity update", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", cursor, sseEventName, data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// (GET /api/pipeline/activity/ws)
func (h *ServiceHandler) ActivitySocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		zap.S().Named("handlers").Warnw("activity websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := subscriberID(r)
	metrics.LiveSubscribers.Add(id)
	defer metrics.LiveSubscribers.Remove(id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The feed is one way. Reading is only used to notice the client going away.
	conn.SetReadLimit(wsReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for update := range h.activitySrv.Stream(ctx, parseSinceID(r)) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(update); err != nil {
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}

// advanceCursor returns the id of the newest event the client has seen.
func advanceCursor(cursor int64, update activity.Update) int64 {
	if n := len(update.NewEvents); n > 0 && update.NewEvents[n-1].ID > cursor {
		return update.NewEvents[n-1].ID
	}
	if cursor == 0 {
		return update.Snapshot.LastEventID
	}
	return cursor
}

func subscriberID(r *http.Request) string {
	if id := requestid.FromRequest(r); id != "" {
		return id
	}
	return uuid.NewString()
}
