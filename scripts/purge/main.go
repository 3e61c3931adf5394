// Command purge deletes webhook dedupe claims older than a cutoff from the
// processed_events table.
//
// Usage:
//
//	DATABASE_URL=... go run ./scripts/purge [-older-than 24h]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/tecbrilho/erika-relay/internal/events"
)

func main() {
	_ = godotenv.Load()

	olderThan := flag.Duration("older-than", 24*time.Hour, "delete claims older than this")
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Println("Error: DATABASE_URL environment variable not set")
		os.Exit(1)
	}
	if *olderThan <= 0 {
		fmt.Println("Error: -older-than must be positive")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		fmt.Printf("Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	fmt.Printf("Purging processed events older than %s...\n", *olderThan)
	n, err := events.NewProcessedStore(pool).Purge(ctx, *olderThan)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Success! %d rows deleted\n", n)
}
