// Command tokengen mints access tokens signed with the API secret, for
// local development and the end-to-end suite.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/abduss/dedupdrive/internal/auth"
	"github.com/abduss/dedupdrive/internal/config"
)

func main() {
	userFlag := flag.String("user", "", "user id (uuid); a random one is generated when empty")
	admin := flag.Bool("admin", false, "grant the admin claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	userID := uuid.New()
	if *userFlag != "" {
		userID, err = uuid.Parse(*userFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -user: %v\n", err)
			os.Exit(2)
		}
	}

	token, err := auth.NewVerifier(cfg.Auth).IssueAccessToken(userID, *admin, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user %s\n", userID)
	fmt.Println(token)
}
