// Package client is the Go client for the taskhub API: a thin REST
// wrapper (Client), a push-channel manager that survives connection drops
// (Events), and a synchronized local view of users and tasks (Sync) that
// refetches everything whenever the server reports any change.
package client

import "time"

// User mirrors one account as the API serializes it.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Task mirrors one task as the API serializes it. AssignedUserID is nil
// when unassigned; CompletedAt is set iff Completed.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Completed        bool       `json:"completed"`
	AssignedUserID   *string    `json:"assigned_user_id"`
	AssignedUsername *string    `json:"assigned_username"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	DueDate          *time.Time `json:"due_date"`
}

// Event is one push-channel message. It is an invalidation signal, not a
// delta: Type selects a notification cue, Message is display text, and
// nothing in it is enough to patch the local view. Receivers refetch.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Event categories the server emits. Anything unrecognized should get the
// default cue.
const (
	EventCreated     = "created"
	EventDeleted     = "deleted"
	EventAssigned    = "assigned"
	EventCompleted   = "completed"
	EventReopened    = "reopened"
	EventUserDeleted = "user_deleted"
	EventInfo        = "info"
)
