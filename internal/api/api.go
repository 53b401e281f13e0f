/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/grimnir_playout/internal/auth"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/logbuffer"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/queue"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const (
	maxEnqueueBody   = 64 << 10
	maxEnqueuePaths  = 500
	maxRecentRecords = 200
	maxLogEntries    = 1000
	eventPingPeriod  = 15 * time.Second
)

// Queue is the producer side of a line-delimited queue.
type Queue interface {
	Append(ctx context.Context, path string) error
	List(ctx context.Context) ([]queue.Entry, error)
}

// ScheduleReader reads committed schedule records.
type ScheduleReader interface {
	LastRecord(ctx context.Context) (*models.ScheduleRecord, error)
	Recent(ctx context.Context, limit int) ([]models.ScheduleRecord, error)
}

// RequeueFunc moves dead-lettered entries back onto the main queue.
type RequeueFunc func(ctx context.Context) (int, error)

// API exposes HTTP handlers.
type API struct {
	queue      Queue
	deadLetter Queue
	requeue    RequeueFunc
	schedule   ScheduleReader
	bus        *events.Bus
	jwtSecret  []byte
	logBuffer  *logbuffer.Buffer
	logger     zerolog.Logger
}

// New creates the API router wrapper. A nil bus disables the event stream
// and an empty jwtSecret leaves every route unauthenticated.
func New(q, deadLetter Queue, requeue RequeueFunc, schedule ScheduleReader, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		queue:      q,
		deadLetter: deadLetter,
		requeue:    requeue,
		schedule:   schedule,
		bus:        bus,
		jwtSecret:  jwtSecret,
		logger:     logger,
	}
}

// SetLogBuffer enables GET /api/v1/logs.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logBuffer = buf
}

// Routes registers the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(a.jwtSecret, auth.ScopeRead))
			r.Get("/queue", a.handleQueueList)
			r.Get("/queue/failed", a.handleFailedList)
			r.Get("/schedule/last", a.handleScheduleLast)
			r.Get("/schedule/recent", a.handleScheduleRecent)
			if a.bus != nil {
				r.Get("/events", a.handleEvents)
			}
			if a.logBuffer != nil {
				r.Get("/logs", a.handleLogs)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(a.jwtSecret, auth.ScopeQueueWrite))
			r.Post("/queue", a.handleQueueAppend)
			if a.requeue != nil {
				r.Post("/queue/failed/requeue", a.handleRequeue)
			}
		})
	})
}

type enqueueRequest struct {
	Path  string   `json:"path"`
	Paths []string `json:"paths"`
}

func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	a.writeEntries(w, r, a.queue)
}

func (a *API) handleFailedList(w http.ResponseWriter, r *http.Request) {
	a.writeEntries(w, r, a.deadLetter)
}

func (a *API) writeEntries(w http.ResponseWriter, r *http.Request, q Queue) {
	entries, err := q.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list queue failed")
		writeError(w, http.StatusInternalServerError, "queue_unavailable")
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (a *API) handleQueueAppend(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnqueueBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	paths := req.Paths
	if req.Path != "" {
		paths = append([]string{req.Path}, paths...)
	}
	if len(paths) == 0 {
		writeError(w, http.StatusBadRequest, "path_required")
		return
	}
	if len(paths) > maxEnqueuePaths {
		writeError(w, http.StatusRequestEntityTooLarge, "too_many_paths")
		return
	}

	producer := auth.ProducerFromContext(r.Context())
	accepted := 0
	for _, p := range paths {
		if err := a.queue.Append(r.Context(), p); err != nil {
			if errors.Is(err, queue.ErrInvalidEntry) {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":    "invalid_path",
					"accepted": accepted,
				})
				return
			}
			a.logger.Error().Err(err).Str("producer", producer).Msg("enqueue failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":    "queue_unavailable",
				"accepted": accepted,
			})
			return
		}
		accepted++
	}

	a.logger.Info().Str("producer", producer).Int("accepted", accepted).Msg("items enqueued")
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

func (a *API) handleRequeue(w http.ResponseWriter, r *http.Request) {
	moved, err := a.requeue(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Int("moved", moved).Msg("requeue failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "queue_unavailable",
			"moved": moved,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moved": moved})
}

func (a *API) handleScheduleLast(w http.ResponseWriter, r *http.Request) {
	rec, err := a.schedule.LastRecord(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("read last record failed")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "schedule_empty")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleScheduleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, maxRecentRecords)
	}

	recs, err := a.schedule.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("read recent records failed")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	if recs == nil {
		recs = []models.ScheduleRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		ItemPath:  q.Get("item_path"),
		Search:    q.Get("search"),
		Limit:     100,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = min(n, maxLogEntries)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}

	entries := a.logBuffer.Query(params)
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"stats":   a.logBuffer.Stats(),
	})
}

type eventMessage struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload,omitempty"`
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Clients only listen; CloseRead ends ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	eventTypes := parseEventTypes(r.URL.Query()["type"])
	merged := make(chan eventMessage, 16)
	done := make(chan struct{})
	defer close(done)

	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		defer a.bus.Unsubscribe(eventType, sub)
		go func() {
			for payload := range sub {
				select {
				case merged <- eventMessage{Type: eventType, Payload: payload}:
				case <-done:
					return
				}
			}
		}()
	}

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, eventMessage{Type: "ping"}); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case msg := <-merged:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// parseEventTypes keeps the known types among raw. None selects all.
func parseEventTypes(raw []string) []events.EventType {
	var out []events.EventType
	for _, candidate := range raw {
		for _, known := range events.AllEventTypes {
			if string(known) == candidate {
				out = append(out, known)
				break
			}
		}
	}
	if len(out) == 0 {
		return events.AllEventTypes
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
