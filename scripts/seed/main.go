// Seed fills the database with demo accounts and tasks. Run from project
// root: go run ./scripts/seed [-bulk N]
//
// Every account gets the password "password". With -bulk it also inserts
// N filler tasks for load testing the list endpoints and the cache.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"taskhub/internal/auth"
	"taskhub/internal/database"
	"taskhub/internal/models"
	"taskhub/internal/repository"
)

func main() {
	bulk := flag.Int("bulk", 0, "also insert N filler tasks")
	flag.Parse()

	loadEnvFile(".env")

	ctx := context.Background()
	db := database.InitDB(ctx)
	if db == nil {
		fmt.Fprintln(os.Stderr, "DATABASE_URL not set or DB connection failed")
		os.Exit(1)
	}
	if err := database.MigrateOrCreateSchema(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Schema failed:", err)
		os.Exit(1)
	}

	store := repository.New(db, database.Driver())
	start := time.Now()

	hash, err := auth.HashPassword("password")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Hash failed:", err)
		os.Exit(1)
	}

	users := make(map[string]models.User)
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := store.CreateUser(ctx, name, hash)
		if errors.Is(err, repository.ErrUsernameTaken) {
			u, err = store.GetUserByUsername(ctx, name)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "User %s failed: %v\n", name, err)
			os.Exit(1)
		}
		users[name] = u
	}
	fmt.Printf("Users: alice (admin), bob, carol, password %q\n", "password")

	tomorrow := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	lastWeek := time.Now().Add(-7 * 24 * time.Hour).Truncate(time.Hour)
	demo := []struct {
		title    string
		assignee string
		due      *time.Time
		done     bool
	}{
		{"Water the plants", "alice", &tomorrow, false},
		{"Take out the trash", "bob", nil, false},
		{"Book dentist appointment", "", &lastWeek, false},
		{"Plan the team offsite", "carol", &tomorrow, false},
		{"Review the budget", "alice", nil, true},
		{"Fix the kitchen tap", "", nil, true},
		{"Renew the domain", "bob", &tomorrow, false},
		{"Clear the garage", "", nil, false},
	}
	for _, d := range demo {
		var assignee *string
		if d.assignee != "" {
			id := users[d.assignee].ID
			assignee = &id
		}
		task, err := store.CreateTask(ctx, d.title, assignee, d.due)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Task %q failed: %v\n", d.title, err)
			os.Exit(1)
		}
		if d.done {
			done := true
			if _, err := store.UpdateTask(ctx, task.ID, repository.TaskPatch{Completed: &done}); err != nil {
				fmt.Fprintf(os.Stderr, "Complete %q failed: %v\n", d.title, err)
				os.Exit(1)
			}
		}
	}
	fmt.Printf("Tasks: %d demo tasks\n", len(demo))

	for n := 1; n <= *bulk; n++ {
		if _, err := store.CreateTask(ctx, fmt.Sprintf("Filler task %d", n), nil, nil); err != nil {
			fmt.Fprintln(os.Stderr, "Insert failed:", err)
			os.Exit(1)
		}
		if n%500 == 0 || n == *bulk {
			fmt.Printf("\rInserted %d / %d", n, *bulk)
		}
	}
	if *bulk > 0 {
		fmt.Println()
	}

	fmt.Printf("Done in %v\n", time.Since(start))
}

func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			val = strings.Trim(val, `"`)
		} else if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
			val = strings.Trim(val, "'")
		}
		if key != "" && os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
}
