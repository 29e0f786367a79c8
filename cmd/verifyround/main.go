package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"rugsobserver/db"
	"rugsobserver/game"
	"rugsobserver/verify"
)

// verifyround replays one round and prints the verdict.
//
// With only a round id it loads the recorded path from the stores and runs
// the same code path as POST /api/games/{id}/verify. With -seed it replays
// offline, no stores needed.
func main() {
	seed := flag.String("seed", "", "server seed for an offline replay (skips the stores)")
	hash := flag.String("hash", "", "published seed hash to check the seed against")
	version := flag.String("version", "v3", "game version: v1, v2 or v3")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: verifyround [flags] <roundId>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	roundID := flag.Arg(0)

	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env not found")
	}

	var result game.VerifyResult
	if *seed != "" {
		result = game.Verify(game.VerifyInput{
			RoundID:        roundID,
			ServerSeed:     *seed,
			ServerSeedHash: *hash,
			Version:        game.ParseVersion(*version),
		})
	} else {
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			log.Fatal("DATABASE_URL not set (pass -seed to replay offline)")
		}
		if err := db.InitPostgres(databaseURL); err != nil {
			log.Fatalf("Failed to init postgres: %v", err)
		}
		defer db.ClosePostgres()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		svc := verify.NewService(1, 1)
		var err error
		result, err = svc.VerifyNow(ctx, roundID)
		if err != nil {
			log.Fatalf("Verification failed: %v", err)
		}
	}

	fmt.Printf("Round:    %s\n", roundID)
	fmt.Printf("Outcome:  %s\n", result.Outcome)
	fmt.Printf("Detail:   %s\n", result.Detail)
	if result.SeedHashMatch != nil {
		fmt.Printf("Seed hash match: %t\n", *result.SeedHashMatch)
	}
	if result.Outcome != game.OutcomeAwaitingSeed {
		fmt.Printf("Replay:   %d ticks, peak %.6fx", len(result.Replay.Prices), result.Replay.Peak)
		if result.Replay.Rugged {
			fmt.Printf(", rugged at tick %d", result.Replay.RugTick)
		}
		fmt.Println()
	}

	if result.Outcome == game.OutcomeFailed {
		os.Exit(1)
	}
}
