// Command apikey mints an operator API key. The raw key is printed once;
// only its bcrypt hash is stored.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/studioai/studio-bff/internal/config"
	"github.com/studioai/studio-bff/internal/store"
	"github.com/studioai/studio-bff/pkg/models"
)

const (
	keyPrefix   = "sk_"
	keyBytes    = 32
	prefixChars = 8
)

func main() {
	var (
		nameFlag   string
		scopesFlag string
	)
	flag.StringVar(&nameFlag, "name", "", "unique name for the key")
	flag.StringVar(&scopesFlag, "scopes", "admin", "comma separated scopes")
	flag.Parse()

	name := strings.TrimSpace(nameFlag)
	if name == "" {
		fmt.Fprintln(os.Stderr, "-name is required")
		os.Exit(1)
	}

	scopes := parseScopes(scopesFlag)
	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "-scopes must name at least one scope")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: dbURL, MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	raw, key, err := newAPIKey(name, scopes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}

	if err := store.NewPostgresStore(pool).CreateAPIKey(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to store key %q: %v\n", name, err)
		os.Exit(1)
	}

	fmt.Printf("API key %q created (prefix %s, scopes %s)\n", name, key.KeyPrefix, strings.Join(key.Scopes, ","))
	fmt.Println("Store it now, it will not be shown again:")
	fmt.Println(raw)
}

// newAPIKey returns the raw key and the record to persist.
func newAPIKey(name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	raw := keyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:prefixChars],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func parseScopes(s string) []string {
	var scopes []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}
