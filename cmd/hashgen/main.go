// Command hashgen prints a bcrypt hash for ADMIN_PASSWORD_HASH, mirroring
// the teacher's hash-gen/genhash tools.
package main

import (
	"fmt"
	"log"
	"os"

	"gatewayd.backend/pkg/crypto"
)

const defaultPassword = "change-this-admin-password"

func resolvePassword(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return defaultPassword
}

func generateHash(password string) (string, error) {
	return crypto.HashPassword(password)
}

func main() {
	password := resolvePassword(os.Args[1:])

	hash, err := generateHash(password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	fmt.Printf("ADMIN_PASSWORD_HASH=%s\n", hash)
}
