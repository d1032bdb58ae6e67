package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"

	"matchlive/internal/session"
)

const (
	maxBodyBytes = 16 << 10

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler exposes sessions over HTTP using go-chi. States and events are
// streamed over a websocket.
type Handler struct {
	svc      *Service
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler serving sessions from svc.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Register mounts the session routes on r. intentLimit caps intents per
// client IP per minute; zero disables the limit.
func (h *Handler) Register(r chi.Router, intentLimit int) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.OpenSession)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Get("/state", h.GetState)
			r.Get("/events", h.StreamEvents)
			r.Delete("/", h.CloseSession)
			r.Group(func(r chi.Router) {
				if intentLimit > 0 {
					r.Use(intentRateLimit(intentLimit, time.Minute))
				}
				r.Post("/intents", h.PostIntent)
			})
		})
	})
}

func intentRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:  "rate_limit_exceeded",
				Detail: "too many intents, try again later",
			})
		}),
	)
}

// OpenSession handles POST /sessions.
// Body: { "match_id": "m1", "author": { "id": "u1", "name": "Ann" } }, all optional.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("invalid open session body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_body", Detail: err.Error()})
		return
	}

	id, o := h.svc.Open(session.MatchID(req.MatchID), session.Author{
		ID:       req.Author.ID,
		Name:     req.Author.Name,
		ImageURL: req.Author.ImageURL,
	})
	writeJSON(w, http.StatusCreated, openResponse{SessionID: id, State: o.State()})
}

// GetState handles GET /sessions/{session_id}/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Get(sessionID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.State())
}

// PostIntent handles POST /sessions/{session_id}/intents.
// Body: { "type": "select_quality", "option": { "id": "720p" } }.
func (h *Handler) PostIntent(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	var req intentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.log.Debug("invalid intent body", slog.String("session_id", string(id)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_body", Detail: err.Error()})
		return
	}
	in, err := decodeIntent(req)
	if err != nil {
		h.log.Debug("intent rejected", slog.String("session_id", string(id)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_intent", Detail: err.Error()})
		return
	}

	st, err := h.svc.Dispatch(id, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Debug("intent applied",
		slog.String("session_id", string(id)),
		slog.String("intent", session.IntentName(in)),
		slog.String("phase", st.Playback.Phase.String()))
	writeJSON(w, http.StatusAccepted, st)
}

// CloseSession handles DELETE /sessions/{session_id}. It is idempotent.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	h.svc.Release(sessionID(r))
	w.WriteHeader(http.StatusNoContent)
}

// StreamEvents handles GET /sessions/{session_id}/events. The connection
// receives the current state first, then every published state and event.
// It is closed normally when the session is released.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	o, err := h.svc.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.log.Debug("websocket upgrade failed", slog.String("session_id", string(id)), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := o.Subscribe()
	defer sub.Close()

	log := h.log.With(slog.String("session_id", string(id)))
	log.Debug("event stream attached")

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Debug("event stream detached")
			return

		case st, ok := <-sub.States():
			if !ok {
				closeStream(conn, "session released")
				return
			}
			if err := writeMessage(conn, streamMessage{Kind: "state", State: &st}); err != nil {
				log.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				closeStream(conn, "session released")
				return
			}
			// a state published before ev goes out first
			select {
			case st, ok := <-sub.States():
				if ok {
					if err := writeMessage(conn, streamMessage{Kind: "state", State: &st}); err != nil {
						return
					}
				}
			default:
			}
			if err := writeMessage(conn, streamMessage{Kind: "event", Event: newEventPayload(ev)}); err != nil {
				log.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session_not_found"})
	case errors.Is(err, session.ErrReleased):
		writeJSON(w, http.StatusGone, errorResponse{Error: "session_released"})
	default:
		h.log.Error("session request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
}

func sessionID(r *http.Request) SessionID {
	return SessionID(chi.URLParam(r, "session_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
