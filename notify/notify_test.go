package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JeromeFenwick/bili-sync/model"
)

func TestQuietHoursDelaySameDayWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	delay, quiet := quietHoursDelay(now, 22, 23)
	if quiet {
		t.Fatalf("hour 23 outside [22,23): expected not quiet, delay=%v", delay)
	}
	now2 := time.Date(2026, 1, 1, 22, 30, 0, 0, time.UTC)
	delay2, quiet2 := quietHoursDelay(now2, 22, 23)
	if !quiet2 {
		t.Fatal("hour 22:30 inside [22,23): expected quiet")
	}
	if delay2 != 30*time.Minute {
		t.Errorf("delay = %v, want 30m", delay2)
	}
}

func TestQuietHoursDelayOvernightWraparound(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	delay, quiet := quietHoursDelay(now, 22, 9)
	if !quiet {
		t.Fatal("hour 23:30 with start=22 end=9 should wrap and be quiet")
	}
	want := 9*time.Hour + 30*time.Minute
	if delay != want {
		t.Errorf("delay = %v, want %v", delay, want)
	}

	now2 := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	delay2, quiet2 := quietHoursDelay(now2, 22, 9)
	if !quiet2 {
		t.Fatal("hour 3 with start=22 end=9 should be quiet (past midnight, before end)")
	}
	if delay2 != 6*time.Hour {
		t.Errorf("delay = %v, want 6h", delay2)
	}
}

func TestClampBounds(t *testing.T) {
	if got := clamp(0, 1, 60); got != 1 {
		t.Errorf("clamp(0) = %d, want 1", got)
	}
	if got := clamp(120, 1, 60); got != 60 {
		t.Errorf("clamp(120) = %d, want 60", got)
	}
	if got := clamp(5, 1, 60); got != 5 {
		t.Errorf("clamp(5) = %d, want 5", got)
	}
}

func TestDispatchDeduplicatesRepeatedWebhookBody(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := New(func() model.Config { return model.Config{NotificationInterval: 1} }, srv.Client())
	notifier := model.Notifier{Kind: model.NotifierWebhook, URL: srv.URL}

	q.dispatch(context.Background(), Message{Notifiers: []model.Notifier{notifier}, Message: "hello", CreatedAt: time.Now()})
	q.dispatch(context.Background(), Message{Notifiers: []model.Notifier{notifier}, Message: "hello", CreatedAt: time.Now()})

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("hits = %d, want 1 (second send should be deduped)", got)
	}
}

func TestDispatchTestMessageBypassesDedup(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := New(func() model.Config { return model.Config{} }, srv.Client())
	notifier := model.Notifier{Kind: model.NotifierWebhook, URL: srv.URL}

	q.dispatch(context.Background(), Message{Notifiers: []model.Notifier{notifier}, Message: "hello", Test: true})
	q.dispatch(context.Background(), Message{Notifiers: []model.Notifier{notifier}, Message: "hello", Test: true})

	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("hits = %d, want 2 (test messages bypass dedup)", got)
	}
}

func TestSendWebhookIncludesPayloadOn400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad template"))
	}))
	defer srv.Close()

	err := sendWebhook(context.Background(), srv.Client(), srv.URL, "", "hi", "2026-01-01 00:00:00", "2026-01-01 00:00:01")
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if got := err.Error(); !strings.Contains(got, "payload sent") || !strings.Contains(got, `"text"`) {
		t.Errorf("error = %q, want it to include the rendered payload", got)
	}
}
