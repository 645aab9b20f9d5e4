// Command devtoken mints a bearer token for local testing.
//
//	go run ./cmd/devtoken -user alice -role user
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Shivanand-hulikatti/event-attendance/internal/auth"
	"github.com/Shivanand-hulikatti/event-attendance/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	role := flag.String("role", auth.RoleUser, "role: user or admin")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	verifier, err := auth.NewVerifier(cfg.AuthSecret, nil)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	raw, err := verifier.Issue(*userID, *role)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(raw)
}
