package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/jobs"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func parseSince(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, domain.Invalidf("since must be a non-negative integer")
	}
	return seq, nil
}

func (h *Handler) pollEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	since, err := parseSince(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.Jobs.GetJob(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	events := h.Jobs.Events().SinceForJob(id, since)
	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":     lo.Ternary(events == nil, []jobs.Event{}, events),
		"next_since": next,
	})
}

func (h *Handler) upgrader() websocket.Upgrader {
	allowAll := len(h.AllowedOrigins) == 0 || lo.Contains(h.AllowedOrigins, "*")
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || lo.Contains(h.AllowedOrigins, origin)
		},
	}
}

// streamEvents sends the job's buffered events after since, then live events
// until the job reaches a terminal status or the client goes away.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	since, err := parseSince(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	snap, err := h.Jobs.GetJob(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	bus := h.Jobs.Events()
	live, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e jobs.Event) (bool, error) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			return false, err
		}
		return e.FileID == "" && e.Type == jobs.EventTypeStatus && e.Status.IsTerminal(), nil
	}
	closeStream := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}

	last := since
	for _, e := range bus.SinceForJob(id, since) {
		done, err := send(e)
		if err != nil {
			return
		}
		last = e.Seq
		if done {
			closeStream()
			return
		}
	}

	if snap.Status.IsTerminal() {
		closeStream()
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-live:
			if !ok {
				return
			}
			if e.JobID != id || e.Seq <= last {
				continue
			}
			done, err := send(e)
			if err != nil {
				return
			}
			last = e.Seq
			if done {
				closeStream()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
