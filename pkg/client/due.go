package client

import (
	"strings"
	"time"
)

// CombineDueDate merges separate date and clock form inputs ("2026-03-01",
// "09:30") into one due timestamp. An empty clock defaults to midnight. An
// empty or unparseable date yields nil (no due date) rather than ever
// producing a malformed timestamp.
func CombineDueDate(date, clock string) *time.Time {
	date = strings.TrimSpace(date)
	if date == "" {
		return nil
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		clock = "00:00"
	}
	t, err := time.Parse("2006-01-02T15:04", date+"T"+clock)
	if err != nil {
		return nil
	}
	return &t
}
