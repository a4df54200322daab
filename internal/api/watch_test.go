package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

func dialWatch(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/" + id + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWatch_SnapshotThenEvents(t *testing.T) {
	env := setupHandler(t, nil, 0)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	id, err := env.queue.CreateJob(ctx, pipeline.Request{Question: "What is time?", ProcessingDepth: 6})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	conn := dialWatch(t, srv, id)

	var snap watchMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if snap.Type != "snapshot" || snap.Job == nil || snap.Job.ID != id {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Job.Status != jobs.StatusPending {
		t.Errorf("snapshot status = %q", snap.Job.Status)
	}

	if err := env.svc.CancelJob(ctx, id); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	var msg watchMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.Type != jobs.EventCancelled {
		t.Fatalf("event = %+v", msg)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("after terminal event err = %v, want normal close", err)
	}
}

func TestWatch_FinishedJobClosesAfterSnapshot(t *testing.T) {
	env := setupHandler(t, nil, 0)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	id, _ := env.queue.CreateJob(ctx, pipeline.Request{Question: "q", ProcessingDepth: 6})
	if err := env.queue.FailJob(ctx, id, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	conn := dialWatch(t, srv, id)

	var snap watchMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if snap.Job == nil || snap.Job.Status != jobs.StatusFailed || snap.Job.Error != "boom" {
		t.Fatalf("snapshot = %+v", snap.Job)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("err = %v, want normal close", err)
	}
}

func TestWatch_UnknownJob(t *testing.T) {
	env := setupHandler(t, nil, 0)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/missing/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown job")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("resp = %+v, want 404", resp)
	}
}

func TestWatch_ReleasesSubscriptionOnClientClose(t *testing.T) {
	env := setupHandler(t, nil, 0)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	id, _ := env.queue.CreateJob(context.Background(), pipeline.Request{Question: "q", ProcessingDepth: 6})
	conn := dialWatch(t, srv, id)

	var snap watchMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if n := env.hub.Watchers(id); n != 1 {
		t.Fatalf("watchers = %d, want 1", n)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Watchers(id) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after client closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
