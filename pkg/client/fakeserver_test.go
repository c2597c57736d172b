package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAPI is a scriptable in-memory stand-in for the server. Fixtures are
// returned verbatim; mutation endpoints invoke an optional hook so tests
// can swap fixtures to the post-mutation snapshot before the refresh hits.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	users    []User
	tasks    []Task
	requests []string
	bodies   map[string][]string
	failWith map[string]int

	// onMutate, when set, runs for every POST/PATCH/DELETE before the
	// response is written.
	onMutate func(method, path string, body []byte)

	// eventsHandler, when set, serves GET /api/events. conn counts from 1.
	eventsHandler func(conn int, w http.ResponseWriter, r *http.Request)
	connects      int
	connTimes     []time.Time
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{
		t:        t,
		bodies:   make(map[string][]string),
		failWith: make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) newClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(f.srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func (f *fakeAPI) setUsers(users []User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = users
}

func (f *fakeAPI) setTasks(tasks []Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = tasks
}

// fail forces a status code for one "METHOD /path" key.
func (f *fakeAPI) fail(key string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith[key] = status
}

func (f *fakeAPI) requestCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeAPI) lastBody(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs := f.bodies[key]
	if len(bs) == 0 {
		return ""
	}
	return bs[len(bs)-1]
}

func (f *fakeAPI) connectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeAPI) connectionTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.connTimes))
	copy(out, f.connTimes)
	return out
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, key)
	if len(body) > 0 {
		f.bodies[key] = append(f.bodies[key], string(body))
	}
	status, forced := f.failWith[key]
	f.mu.Unlock()

	if forced {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":"forced failure"}`)
		return
	}

	if r.URL.Path == "/api/events" && r.Method == http.MethodGet {
		f.mu.Lock()
		f.connects++
		conn := f.connects
		f.connTimes = append(f.connTimes, time.Now())
		handler := f.eventsHandler
		f.mu.Unlock()
		if handler == nil {
			http.NotFound(w, r)
			return
		}
		handler(conn, w, r)
		return
	}

	mutation := r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodDelete
	if mutation && f.onMutate != nil {
		f.onMutate(r.Method, r.URL.Path, body)
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/users":
		f.mu.Lock()
		resp := map[string]any{"users": f.users}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodGet && r.URL.Path == "/api/tasks":
		f.mu.Lock()
		resp := map[string]any{"tasks": f.tasks}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodGet && r.URL.Path == "/api/me":
		f.mu.Lock()
		var u User
		if len(f.users) > 0 {
			u = f.users[0]
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"user": u})
	case r.Method == http.MethodPost && (r.URL.Path == "/auth/login" || r.URL.Path == "/auth/register"):
		f.mu.Lock()
		var u User
		if len(f.users) > 0 {
			u = f.users[0]
		}
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "taskhub_session", Value: "fake-session", Path: "/"})
		json.NewEncoder(w).Encode(map[string]any{"user": u, "token": "fake-token"})
	case r.Method == http.MethodPost && r.URL.Path == "/auth/logout":
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	case r.Method == http.MethodPost && r.URL.Path == "/api/tasks":
		f.mu.Lock()
		var task Task
		if len(f.tasks) > 0 {
			task = f.tasks[len(f.tasks)-1]
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"task": task})
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/api/tasks/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		f.mu.Lock()
		var task Task
		for _, t := range f.tasks {
			if t.ID == id {
				task = t
			}
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"task": task})
	case r.Method == http.MethodDelete:
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

// sseWriteFrame writes one event-stream frame and flushes it out.
func sseWriteFrame(w http.ResponseWriter, name, data string) {
	if name != "" {
		fmt.Fprintf(w, "event: %s\n", name)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.(http.Flusher).Flush()
}

// sseStart sends the stream headers.
func sseStart(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
