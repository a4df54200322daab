package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/genius/internal/jobs"
)

const (
	watchWriteWait = 10 * time.Second
	watchPongWait  = 60 * time.Second
	watchPingEvery = (watchPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// watchMessage is one frame on the watch stream. The first frame is a
// snapshot of the job; the rest carry events.
type watchMessage struct {
	Type  string      `json:"type"`
	Job   *jobs.Job   `json:"job,omitempty"`
	Event *jobs.Event `json:"event,omitempty"`
}

func handleWatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Watcher == nil {
			httpError(w, http.StatusNotImplemented, errAPI, "job events not available")
			return
		}
		id := chi.URLParam(r, "id")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Subscribe before the snapshot so no change between the two is lost.
		events, stop, err := deps.Watcher.Watch(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		defer stop()

		job, err := deps.Service.GetJob(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := watchUpgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "job_id", id, "error", err)
			return
		}
		defer conn.Close()

		go readPump(conn, cancel)

		if err := writeFrame(conn, watchMessage{Type: "snapshot", Job: job}); err != nil {
			return
		}
		if job.Status.Terminal() {
			closeFrame(conn)
			return
		}

		ticker := time.NewTicker(watchPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					closeFrame(conn)
					return
				}
				if err := writeFrame(conn, watchMessage{Type: "event", Event: &ev}); err != nil {
					slog.Debug("watch write failed", "job_id", id, "error", err)
					return
				}
				if ev.Status.Terminal() {
					closeFrame(conn)
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

// readPump drains client frames so pongs are processed, and cancels the
// stream once the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	if err := conn.SetReadDeadline(time.Now().Add(watchPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg watchMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func closeFrame(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}
