package controller_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"taskhub/internal/auth"
	"taskhub/internal/config"
	"taskhub/internal/controller"
	"taskhub/internal/database"
	"taskhub/internal/events"
	"taskhub/internal/models"
	"taskhub/internal/repository"
	"taskhub/internal/routes"
)

func TestMain(m *testing.M) {
	os.Setenv("SECRET_KEY", "controller-test-secret")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type env struct {
	router *gin.Engine
	store  *repository.Store
	hub    *events.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, driver, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, driver); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repository.New(db, driver)
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	return &env{
		router: routes.Router(controller.New(store, hub)),
		store:  store,
		hub:    hub,
	}
}

// do sends a JSON request. A non-empty token is used as the session cookie.
func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

// register creates an account and returns the user and a session token.
func (e *env) register(t *testing.T, username, password string) (models.User, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"password": password,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register %q: status %d body %s", username, w.Code, w.Body.String())
	}
	var body struct {
		User  models.User `json:"user"`
		Token string      `json:"token"`
	}
	decode(t, w, &body)
	if body.Token == "" {
		t.Fatalf("register %q: no token in response", username)
	}
	return body.User, body.Token
}

func (e *env) createTask(t *testing.T, token, title string, assignee *string, due string) models.Task {
	t.Helper()
	payload := map[string]any{"title": title}
	if assignee != nil {
		payload["assigned_user_id"] = *assignee
	}
	if due != "" {
		payload["due_date"] = due
	}
	w := e.do(t, http.MethodPost, "/api/tasks", token, payload)
	if w.Code != http.StatusOK {
		t.Fatalf("create task %q: status %d body %s", title, w.Code, w.Body.String())
	}
	var body struct {
		Task models.Task `json:"task"`
	}
	decode(t, w, &body)
	return body.Task
}

func TestRegisterLoginMe(t *testing.T) {
	e := newEnv(t)

	alice, aliceToken := e.register(t, "alice", "s3cret")
	if !alice.IsAdmin {
		t.Fatal("first registered user should be admin")
	}
	bob, _ := e.register(t, "bob", "pass1234")
	if bob.IsAdmin {
		t.Fatal("second registered user should not be admin")
	}

	w := e.do(t, http.MethodGet, "/api/me", aliceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: status %d", w.Code)
	}
	var me struct {
		User models.User `json:"user"`
	}
	decode(t, w, &me)
	if me.User.ID != alice.ID || me.User.Username != "alice" {
		t.Fatalf("me = %+v, want alice", me.User)
	}

	// Login with wrong password fails with the canonical message.
	w = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "Invalid credentials." {
		t.Fatalf("bad login: status %d body %s", w.Code, w.Body.String())
	}

	// Login as a form post, the way the web page submits it.
	form := url.Values{"username": {"alice"}, "password": {"s3cret"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("form login: status %d body %s", rec.Code, rec.Body.String())
	}
	var cookie string
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			cookie = c.Value
		}
	}
	if cookie == "" {
		t.Fatal("form login set no session cookie")
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "al", "password": "longenough",
	})
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "Username or password too short." {
		t.Fatalf("short username: status %d body %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice", "password": "abc",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short password: status %d", w.Code)
	}

	e.register(t, "alice", "s3cret")
	w = e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice", "password": "s3cret",
	})
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "Username already taken." {
		t.Fatalf("duplicate: status %d body %s", w.Code, w.Body.String())
	}
}

func TestRegisterBroadcastsToConnectedClients(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice", "s3cret")

	sub := e.hub.Subscribe()
	bob, _ := e.register(t, "bob", "pass1234")

	ev := <-sub
	if ev.Type != models.EventInfo || ev.Message != `User "bob" joined` {
		t.Fatalf("register event = %+v", ev)
	}
	if ev.Payload["user_id"] != bob.ID {
		t.Fatalf("register payload = %+v, want user_id %s", ev.Payload, bob.ID)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice", "s3cret")

	w := e.do(t, http.MethodPost, "/auth/logout", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", w.Code, w.Body.String())
	}
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookie && c.Value == "" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout should clear the session cookie")
	}
}

func TestUnauthorizedRequests(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/api/me", "/api/users", "/api/tasks", "/api/events"} {
		w := e.do(t, http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without session: status %d", path, w.Code)
		}
	}
	w := e.do(t, http.MethodGet, "/api/tasks", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", w.Code)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	e := newEnv(t)
	_, token := e.register(t, "alice", "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer auth: status %d body %s", w.Code, w.Body.String())
	}
}

func TestCreateTaskValidation(t *testing.T) {
	e := newEnv(t)
	_, token := e.register(t, "alice", "s3cret")

	w := e.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "   "})
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "Title is required." {
		t.Fatalf("blank title: status %d body %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/api/tasks", token, map[string]any{
		"title": "orphan", "assigned_user_id": "no-such-user",
	})
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "Assigned user not found." {
		t.Fatalf("unknown assignee: status %d body %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/api/tasks", token, map[string]any{
		"title": "bad due", "due_date": "next tuesday",
	})
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "Invalid due date." {
		t.Fatalf("bad due date: status %d body %s", w.Code, w.Body.String())
	}
}

func TestTaskLifecycleWithEvents(t *testing.T) {
	e := newEnv(t)
	alice, token := e.register(t, "alice", "s3cret")
	sub := e.hub.Subscribe()

	task := e.createTask(t, token, "water the plants", &alice.ID, "2026-09-01T09:00")
	if task.AssignedUsername == nil || *task.AssignedUsername != "alice" {
		t.Fatalf("assigned_username = %v, want alice", task.AssignedUsername)
	}
	if task.DueDate == nil || !task.DueDate.Equal(time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("due_date = %v", task.DueDate)
	}
	ev := <-sub
	if ev.Type != models.EventCreated || ev.Message != `"water the plants" added` {
		t.Fatalf("created event = %+v", ev)
	}

	// Complete it.
	w := e.do(t, http.MethodPatch, "/api/tasks/"+task.ID, token, map[string]any{"completed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: status %d body %s", w.Code, w.Body.String())
	}
	var patched struct {
		Task models.Task `json:"task"`
	}
	decode(t, w, &patched)
	if !patched.Task.Completed || patched.Task.CompletedAt == nil {
		t.Fatalf("completed task = %+v", patched.Task)
	}
	ev = <-sub
	if ev.Type != models.EventCompleted || ev.Message != `"water the plants" completed` {
		t.Fatalf("completed event = %+v", ev)
	}

	// Reopen.
	w = e.do(t, http.MethodPatch, "/api/tasks/"+task.ID, token, map[string]any{"completed": false})
	if w.Code != http.StatusOK {
		t.Fatalf("reopen: status %d", w.Code)
	}
	decode(t, w, &patched)
	if patched.Task.Completed || patched.Task.CompletedAt != nil {
		t.Fatalf("reopened task = %+v", patched.Task)
	}
	if ev = <-sub; ev.Type != models.EventReopened {
		t.Fatalf("reopened event = %+v", ev)
	}

	// Clear the assignment with an empty string, as the web form does.
	w = e.do(t, http.MethodPatch, "/api/tasks/"+task.ID, token, map[string]any{"assigned_user_id": ""})
	if w.Code != http.StatusOK {
		t.Fatalf("unassign: status %d", w.Code)
	}
	decode(t, w, &patched)
	if patched.Task.AssignedUserID != nil {
		t.Fatalf("assignee not cleared: %+v", patched.Task)
	}
	if ev = <-sub; ev.Type != models.EventAssigned {
		t.Fatalf("assigned event = %+v", ev)
	}

	// Delete.
	w = e.do(t, http.MethodDelete, "/api/tasks/"+task.ID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	if ev = <-sub; ev.Type != models.EventDeleted || ev.Message != `"water the plants" removed` {
		t.Fatalf("deleted event = %+v", ev)
	}

	w = e.do(t, http.MethodDelete, "/api/tasks/"+task.ID, token, nil)
	if w.Code != http.StatusNotFound || errorMessage(t, w) != "Task not found." {
		t.Fatalf("double delete: status %d body %s", w.Code, w.Body.String())
	}
}

func TestUpdateTaskPartialSemantics(t *testing.T) {
	e := newEnv(t)
	alice, token := e.register(t, "alice", "s3cret")

	task := e.createTask(t, token, "original", &alice.ID, "2026-09-01")

	// A title-only patch must not disturb assignment or due date.
	w := e.do(t, http.MethodPatch, "/api/tasks/"+task.ID, token, map[string]any{"title": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename: status %d body %s", w.Code, w.Body.String())
	}
	var patched struct {
		Task models.Task `json:"task"`
	}
	decode(t, w, &patched)
	if patched.Task.Title != "renamed" {
		t.Fatalf("title = %q", patched.Task.Title)
	}
	if patched.Task.AssignedUserID == nil || patched.Task.DueDate == nil {
		t.Fatalf("rename clobbered other fields: %+v", patched.Task)
	}

	// JSON null clears the due date.
	w = e.do(t, http.MethodPatch, "/api/tasks/"+task.ID, token, map[string]any{"due_date": nil})
	if w.Code != http.StatusOK {
		t.Fatalf("clear due: status %d", w.Code)
	}
	decode(t, w, &patched)
	if patched.Task.DueDate != nil {
		t.Fatalf("due date not cleared: %+v", patched.Task)
	}

	// An empty patch is an error.
	w = e.do(t, http.MethodPatch, "/api/tasks/"+task.ID, token, map[string]any{})
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "Nothing to update." {
		t.Fatalf("empty patch: status %d body %s", w.Code, w.Body.String())
	}

	// Unknown task.
	w = e.do(t, http.MethodPatch, "/api/tasks/nope", token, map[string]any{"completed": true})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown task: status %d", w.Code)
	}
}

func TestListEndpoints(t *testing.T) {
	e := newEnv(t)
	alice, token := e.register(t, "alice", "s3cret")
	e.register(t, "bob", "pass1234")
	e.createTask(t, token, "first", nil, "")
	e.createTask(t, token, "second", &alice.ID, "2026-01-02T15:00")

	w := e.do(t, http.MethodGet, "/api/users", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list users: status %d", w.Code)
	}
	var users struct {
		Users []models.User `json:"users"`
	}
	decode(t, w, &users)
	if len(users.Users) != 2 || users.Users[0].Username != "alice" {
		t.Fatalf("users = %+v", users.Users)
	}

	w = e.do(t, http.MethodGet, "/api/tasks", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list tasks: status %d", w.Code)
	}
	var tasks struct {
		Tasks []models.Task `json:"tasks"`
	}
	decode(t, w, &tasks)
	if len(tasks.Tasks) != 2 {
		t.Fatalf("tasks = %+v", tasks.Tasks)
	}
	// Due-dated task sorts ahead of the dateless one.
	if tasks.Tasks[0].Title != "second" {
		t.Fatalf("order = [%s, %s]", tasks.Tasks[0].Title, tasks.Tasks[1].Title)
	}
}

func TestDeleteUserAdminGate(t *testing.T) {
	e := newEnv(t)
	alice, aliceToken := e.register(t, "alice", "s3cret") // admin
	bob, bobToken := e.register(t, "bob", "pass1234")

	task := e.createTask(t, aliceToken, "bobs chore", &bob.ID, "")

	// Non-admins cannot remove other accounts.
	w := e.do(t, http.MethodDelete, "/api/users/"+alice.ID, bobToken, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin delete: status %d", w.Code)
	}

	sub := e.hub.Subscribe()
	w = e.do(t, http.MethodDelete, "/api/users/"+bob.ID, aliceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin delete: status %d body %s", w.Code, w.Body.String())
	}
	ev := <-sub
	if ev.Type != models.EventUserDeleted || ev.Message != `User "bob" removed` {
		t.Fatalf("user_deleted event = %+v", ev)
	}

	// Bob's task survives, unassigned.
	got, err := e.store.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.AssignedUserID != nil {
		t.Fatalf("task still assigned: %+v", got)
	}

	w = e.do(t, http.MethodDelete, "/api/users/"+bob.ID, aliceToken, nil)
	if w.Code != http.StatusNotFound || errorMessage(t, w) != "User not found." {
		t.Fatalf("delete missing user: status %d body %s", w.Code, w.Body.String())
	}
}

func TestDeleteSelfEndsSession(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice", "s3cret")
	bob, bobToken := e.register(t, "bob", "pass1234")

	w := e.do(t, http.MethodDelete, "/api/users/"+bob.ID, bobToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("self delete: status %d body %s", w.Code, w.Body.String())
	}
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookie && c.Value == "" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("self delete should clear the session cookie")
	}

	// The stale session is now rejected when it has to resolve a user.
	w = e.do(t, http.MethodGet, "/api/me", bobToken, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after self delete: status %d", w.Code)
	}
}

func TestEventsStream(t *testing.T) {
	e := newEnv(t)
	_, token := e.register(t, "alice", "s3cret")

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	// Headers are flushed after the subscription is registered, so the
	// broadcast below is guaranteed to reach this stream.
	e.hub.Broadcast(context.Background(), models.EventCreated, `"x" added`, map[string]any{"task_id": "t1"})

	r := bufio.NewReader(resp.Body)
	var data string
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 64)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()
readLoop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before event")
			}
			line = strings.TrimRight(line, "\r\n")
			if strings.HasPrefix(line, "data:") {
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				break readLoop
			}
		case <-deadline:
			t.Fatal("timed out waiting for event frame")
		}
	}

	var ev models.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("event frame %q: %v", data, err)
	}
	if ev.Type != models.EventCreated || ev.Message != `"x" added` {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEventsStreamPing(t *testing.T) {
	old := config.Get().PingInterval
	config.Get().PingInterval = 1
	t.Cleanup(func() { config.Get().PingInterval = old })

	e := newEnv(t)
	_, token := e.register(t, "alice", "s3cret")

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	found := make(chan string, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "event:") {
				found <- strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				return
			}
		}
	}()
	select {
	case name := <-found:
		if name != "ping" {
			t.Fatalf("event name = %q, want ping", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no keep-alive ping within 5s")
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("health: status %d body %q", w.Code, w.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("X-Request-ID = %q, want fixed-id", got)
	}
}
