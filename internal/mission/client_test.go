package mission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type backend struct {
	mu      sync.Mutex
	info    string
	status  int
	updates []map[string]any
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/info/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.status != 0 {
			w.WriteHeader(b.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, b.info)
	})
	mux.HandleFunc("/api/update/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var m map[string]any
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.updates = append(b.updates, m)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (b *backend) set(info string, status int) {
	b.mu.Lock()
	b.info = info
	b.status = status
	b.mu.Unlock()
}

func (b *backend) posted() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.updates...)
}

func newBackend(t *testing.T, info string) (*backend, *Client) {
	t.Helper()
	b := &backend{info: info}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	return b, NewClient(srv.URL+"/api/", time.Second)
}

func TestClient_FetchSettingsDefaultsMissingFields(t *testing.T) {
	_, c := newBackend(t, `{"explore":true}`)
	st, err := c.FetchSettings(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !st.Explore || !st.Autonomous || st.Time != "0:05" {
		t.Fatalf("settings=%+v", st)
	}
}

func TestClient_FetchSettingsErrors(t *testing.T) {
	b, c := newBackend(t, `not json`)
	if _, err := c.FetchSettings(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
	b.set(`{}`, http.StatusBadGateway)
	if _, err := c.FetchSettings(context.Background()); err == nil {
		t.Fatalf("expected status error")
	}
	if !c.Reachable(context.Background()) {
		t.Fatalf("backend answering 502 is still reachable")
	}
}

func TestClient_PostUpdate(t *testing.T) {
	b, c := newBackend(t, `{}`)
	if err := c.PostUpdate(context.Background(), map[string]any{"failed_count": 2}); err != nil {
		t.Fatalf("post: %v", err)
	}
	got := b.posted()
	if len(got) != 1 || got[0]["failed_count"] != float64(2) {
		t.Fatalf("posted=%v", got)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if c.Reachable(context.Background()) {
		t.Fatalf("expected unreachable")
	}
	if _, err := c.FetchSettings(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
