package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Notifier receives user-facing signals from the live view: transient
// notices and per-category cues (sound, highlight, desktop notification,
// whatever the frontend has). Implementations must not block.
type Notifier interface {
	Notice(text string)
	Cue(category string)
}

// Sync is the client-side source of truth for users and tasks. Every
// mutation goes through the server and, on success, refetches both
// collections so the local view is never older than the change just made.
// The view only ever moves between complete server snapshots; it is never
// patched incrementally.
//
// All methods are safe for concurrent use. When mutations overlap, each
// runs its own refresh and the last snapshot to land wins; that race is
// accepted, both snapshots being consistent.
type Sync struct {
	client *Client

	// Notifier, when non-nil, receives notices and cues raised while Run
	// consumes the push channel. Set it before calling Run.
	Notifier Notifier

	mu      sync.RWMutex
	users   []User
	tasks   []Task
	current *User
}

// NewSync wraps a Client with a synchronized local view.
func NewSync(c *Client) *Sync {
	return &Sync{client: c}
}

// Users returns the cached accounts from the last successful refresh.
func (s *Sync) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, len(s.users))
	copy(out, s.users)
	return out
}

// Tasks returns the cached tasks from the last successful refresh, in
// server order (due-soonest first, then newest).
func (s *Sync) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// ActiveTasks returns the cached tasks not yet completed.
func (s *Sync) ActiveTasks() []Task {
	return s.filterTasks(false)
}

// CompletedTasks returns the cached tasks already completed.
func (s *Sync) CompletedTasks() []Task {
	return s.filterTasks(true)
}

func (s *Sync) filterTasks(completed bool) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Completed == completed {
			out = append(out, t)
		}
	}
	return out
}

// CurrentUser returns the signed-in user, or nil before login.
func (s *Sync) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	u := *s.current
	return &u
}

// Login authenticates and primes the view.
func (s *Sync) Login(ctx context.Context, username, password string) error {
	u, err := s.client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	s.setCurrent(&u)
	return s.RefreshAll(ctx)
}

// Register creates an account, signs in, and primes the view.
func (s *Sync) Register(ctx context.Context, username, password string) error {
	u, err := s.client.Register(ctx, username, password)
	if err != nil {
		return err
	}
	s.setCurrent(&u)
	return s.RefreshAll(ctx)
}

// Restore resolves the session of a client that already holds a token or
// cookie and primes the view. Use it instead of Login when resuming.
func (s *Sync) Restore(ctx context.Context) error {
	u, err := s.client.Me(ctx)
	if err != nil {
		return err
	}
	s.setCurrent(&u)
	return s.RefreshAll(ctx)
}

// Logout ends the session and empties the view.
func (s *Sync) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.users, s.tasks, s.current = nil, nil, nil
	s.mu.Unlock()
	return nil
}

func (s *Sync) setCurrent(u *User) {
	s.mu.Lock()
	s.current = u
	s.mu.Unlock()
}

// CreateTask validates and creates a task. An empty or whitespace-only
// title fails with *ValidationError before anything is sent.
func (s *Sync) CreateTask(ctx context.Context, title string, assigneeID *string, due *time.Time) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if _, err := s.client.CreateTask(ctx, strings.TrimSpace(title), assigneeID, due); err != nil {
		return err
	}
	return s.RefreshAll(ctx)
}

// SetCompleted marks a task done or reopens it.
func (s *Sync) SetCompleted(ctx context.Context, taskID string, done bool) error {
	if _, err := s.client.SetCompleted(ctx, taskID, done); err != nil {
		return err
	}
	return s.RefreshAll(ctx)
}

// SetAssignee assigns a task (nil userID clears the assignment).
func (s *Sync) SetAssignee(ctx context.Context, taskID string, userID *string) error {
	if _, err := s.client.SetAssignee(ctx, taskID, userID); err != nil {
		return err
	}
	return s.RefreshAll(ctx)
}

// SetDueDate sets or clears (nil) a task's due timestamp.
func (s *Sync) SetDueDate(ctx context.Context, taskID string, due *time.Time) error {
	if _, err := s.client.SetDueDate(ctx, taskID, due); err != nil {
		return err
	}
	return s.RefreshAll(ctx)
}

// RenameTask changes a task's title. An empty title fails with
// *ValidationError before anything is sent.
func (s *Sync) RenameTask(ctx context.Context, taskID, title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if _, err := s.client.RenameTask(ctx, taskID, strings.TrimSpace(title)); err != nil {
		return err
	}
	return s.RefreshAll(ctx)
}

// DeleteTask removes a task.
func (s *Sync) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.client.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	return s.RefreshAll(ctx)
}

// DeleteUser removes an account. The server unassigns (never deletes)
// that user's tasks; the refreshed view reflects whatever came back.
func (s *Sync) DeleteUser(ctx context.Context, userID string) error {
	if err := s.client.DeleteUser(ctx, userID); err != nil {
		return err
	}
	return s.RefreshAll(ctx)
}

// RefreshAll fetches users and tasks concurrently and swaps both caches
// in one step, but only after both fetches succeed. On any failure the
// previous view is kept whole; a half-updated view never exists.
func (s *Sync) RefreshAll(ctx context.Context) error {
	var (
		users []User
		tasks []Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.client.Users(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = s.client.Tasks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	s.mu.Lock()
	s.users, s.tasks = users, tasks
	s.mu.Unlock()
	return nil
}

// Run consumes the push channel until ctx is cancelled, keeping the view
// in sync. Every change event triggers a full refresh; the event itself
// is surfaced through the Notifier (notice plus category cue). Malformed
// events refresh silently (fail-open). Reconnects also refresh, covering
// whatever was missed while disconnected. Run never fails on channel or
// refresh errors; it returns when ctx ends.
func (s *Sync) Run(ctx context.Context) error {
	for sev := range s.client.Events(ctx) {
		switch sev.Type {
		case Connected:
			s.refreshAndReport(ctx, false)
		case Message:
			if s.Notifier != nil {
				s.Notifier.Notice(sev.Event.Message)
				s.Notifier.Cue(sev.Event.Type)
			}
			s.refreshAndReport(ctx, false)
		case Malformed:
			s.refreshAndReport(ctx, true)
		case Disconnected:
			// Reconnect is already scheduled; stale view until then.
		}
	}
	return ctx.Err()
}

// refreshAndReport refreshes and, unless silenced, surfaces failures as a
// notice. A failed refresh only means the view stays stale until the next
// event or reconnect.
func (s *Sync) refreshAndReport(ctx context.Context, silent bool) {
	if err := s.RefreshAll(ctx); err != nil && !silent && ctx.Err() == nil && s.Notifier != nil {
		s.Notifier.Notice("refresh failed: " + err.Error())
	}
}
