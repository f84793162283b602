package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
)

// dev-token signs a bearer token with API_SECRET for local testing. Real
// tokens come from the auth service.
func main() {
	actorID := flag.String("actor-id", "", "Required: worker or company id")
	role := flag.String("role", "", "Required: worker|company")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if strings.TrimSpace(*actorID) == "" {
		fmt.Fprintln(os.Stderr, "--actor-id is required")
		os.Exit(1)
	}
	r := models.ActorRole(strings.TrimSpace(*role))
	if r != models.ActorRoleWorker && r != models.ActorRoleCompany {
		fmt.Fprintln(os.Stderr, "--role must be worker or company")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		fmt.Fprintln(os.Stderr, "refusing to sign tokens with GO_ENV=production")
		os.Exit(1)
	}
	if cfg.Secret == "" {
		fmt.Fprintln(os.Stderr, "API_SECRET is not set")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate([]byte(cfg.Secret), strings.TrimSpace(*actorID), string(r), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
