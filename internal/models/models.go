package models

import "time"

// User is an account that can log in and be assigned tasks.
// PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Task is a single todo item. AssignedUserID is nil when unassigned;
// CompletedAt is set iff Completed is true.
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

// Event categories broadcast over the push channel. Clients treat every
// event as an invalidation signal; the type only selects the notice cue.
const (
	EventCreated     = "created"
	EventDeleted     = "deleted"
	EventAssigned    = "assigned"
	EventCompleted   = "completed"
	EventReopened    = "reopened"
	EventUserDeleted = "user_deleted"
	EventInfo        = "info"
)

// Event is the payload of one push-channel message. It carries no deltas:
// Payload holds loose identifiers for log consumers, never enough to patch
// client state.
type Event struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
