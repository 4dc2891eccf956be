/**
 * @description
 * Script to delete a test Tripler by phone number.
 * This lets you clean up Triplers created while testing the SMS flow so the same
 * phone number can be claimed again. Confirmed Triplers are refused because their
 * payout rows still reference them.
 *
 * Usage:
 *   go run ./cmd/delete-tripler <phone>
 *
 * Example:
 *   go run ./cmd/delete-tripler "(415) 555-0100"
 *
 * @dependencies
 * - Environment variables: DATABASE_URL
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/zestyping/blockpower-be-sub000/internal/app"
	"github.com/zestyping/blockpower-be-sub000/internal/config"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
	"github.com/zestyping/blockpower-be-sub000/internal/store"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: go run ./cmd/delete-tripler <phone>")
		fmt.Println(`Example: go run ./cmd/delete-tripler "(415) 555-0100"`)
		os.Exit(1)
	}

	phone, err := app.NormalizePhone(os.Args[1])
	if err != nil {
		log.Fatalf("Invalid phone number: %v", err)
	}

	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbpool.Close()
	repo := store.NewPostgresRepository(dbpool)

	fmt.Printf("Fetching tripler for phone: %s\n", phone)
	tripler, err := repo.FindTriplerByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Fatalf("No tripler registered for %s", phone)
		}
		log.Fatalf("Failed to fetch tripler: %v", err)
	}

	fmt.Printf("Tripler Details:\n")
	fmt.Printf("  ID: %s\n", tripler.ID)
	fmt.Printf("  Name: %s %s\n", tripler.FirstName, tripler.LastName)
	fmt.Printf("  Status: %s\n", tripler.Status)
	fmt.Printf("  Claimed by: %s\n", tripler.ClaimedBy)
	fmt.Printf("  Triplees: %s\n", strings.Join(tripler.Triplees[:], ", "))

	if tripler.Status == domain.TriplerConfirmed {
		log.Fatalf("Tripler %s is confirmed and has a payout; refusing to delete", tripler.ID)
	}

	fmt.Printf("\nAre you sure you want to delete this tripler? (yes/no): ")
	var confirmation string
	fmt.Scanln(&confirmation)

	if app.ClassifyReply(confirmation) != app.ReplyYes {
		fmt.Println("Deletion cancelled.")
		os.Exit(0)
	}

	fmt.Printf("Deleting tripler %s...\n", tripler.ID)
	if err := repo.DeleteTripler(ctx, tripler.ID); err != nil {
		log.Fatalf("Failed to delete tripler: %v", err)
	}

	fmt.Printf("Successfully deleted tripler %s\n", tripler.ID)
	fmt.Printf("You can now reuse the phone number: %s\n", phone)
}
