package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) levels() []AlertLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AlertLevel, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Level
	}
	return out
}

func TestWatchConnectivity_Transitions(t *testing.T) {
	updates := make(chan bool)
	n := &recordingNotifier{}
	done := make(chan struct{})
	go func() {
		WatchConnectivity(context.Background(), updates, n)
		close(done)
	}()

	// initial false, failed first attempts, connect, drop, retry fails, recover
	for _, v := range []bool{false, false, true, true, false, false, true} {
		updates <- v
	}
	close(updates)
	<-done

	got := n.levels()
	want := []AlertLevel{AlertWarning, AlertInfo}
	if len(got) != len(want) {
		t.Fatalf("alerts: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWatchConnectivity_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchConnectivity(ctx, make(chan bool), &recordingNotifier{})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after cancel")
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request: %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{
		Level: AlertWarning, Title: "Price feed lost", Message: "m",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Level != AlertWarning || got.Title != "Price feed lost" || got.TS == "" {
		t.Errorf("payload: %+v", got)
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Error("expected error for 502")
	}
}

func TestNew_PicksBackend(t *testing.T) {
	if _, ok := New("").(*LogNotifier); !ok {
		t.Error("empty url should give LogNotifier")
	}
	if _, ok := New("http://example.invalid/hook").(*WebhookNotifier); !ok {
		t.Error("url should give WebhookNotifier")
	}
}
