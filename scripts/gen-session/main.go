// Gen-session mints a session token for an existing user id, handy for
// curl or taskhubctl against a running server. Run from project root:
//
//	SECRET_KEY=... go run ./scripts/gen-session <user-id>
package main

import (
	"fmt"
	"os"
	"time"

	"taskhub/internal/auth"
	"taskhub/internal/config"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: gen-session <user-id>")
		os.Exit(2)
	}

	cfg := config.Get()
	if cfg.SecretKey == "" {
		fmt.Fprintln(os.Stderr, "SECRET_KEY not set")
		os.Exit(1)
	}

	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	token, err := auth.MintSession(cfg.SecretKey, os.Args[1], ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint failed:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
