// Command admintoken mints a bearer JWT for the admin API against the
// single shared ADMIN_PASSWORD_HASH, mirroring the teacher's admin-apikey
// tool's flag-driven CLI shape without a per-user database lookup - this
// gateway has no users table, just one operator secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"gatewayd.backend/internal/config"
	"gatewayd.backend/pkg/crypto"
	"gatewayd.backend/pkg/jwt"
)

// adminSubjectID is a fixed, nil-UUID subject: there's exactly one admin
// principal, not a row in a users table.
var adminSubjectID = uuid.Nil

type adminTokenDeps struct {
	loadEnv func() error
	loadCfg func() *config.Config
	check   func(password, hash string) bool
}

func defaultAdminTokenDeps() adminTokenDeps {
	return adminTokenDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		check:   crypto.CheckPassword,
	}
}

func runAdminToken(args []string, deps adminTokenDeps) (string, error) {
	fs := flag.NewFlagSet("admintoken", flag.ContinueOnError)
	passwordFlag := fs.String("password", "", "admin password (required)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *passwordFlag == "" {
		return "", fmt.Errorf("--password is required")
	}

	if err := deps.loadEnv(); err != nil {
		log.Println("no .env file found, using environment variables")
	}
	cfg := deps.loadCfg()

	if cfg.Security.AdminPasswordHash == "" {
		return "", fmt.Errorf("ADMIN_PASSWORD_HASH is not configured")
	}
	if !deps.check(*passwordFlag, cfg.Security.AdminPasswordHash) {
		return "", fmt.Errorf("invalid admin password")
	}

	svc := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	pair, err := svc.GenerateTokenPair(adminSubjectID, "admin@gatewayd", "admin")
	if err != nil {
		return "", fmt.Errorf("failed to mint admin token: %w", err)
	}
	return pair.AccessToken, nil
}

func main() {
	token, err := runAdminToken(os.Args[1:], defaultAdminTokenDeps())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
