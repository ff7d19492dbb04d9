package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"trustcore.org/internal/migrate"
)

const usage = "usage: migrate [flags] <up|down|seed|status>"

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("TRUSTCORE_PG_DSN"), "PostgreSQL DSN (defaults to TRUSTCORE_PG_DSN)")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "directory with .up.sql/.down.sql files")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "directory with seed .sql files")
		timeout        = flag.Duration("timeout", 30*time.Second, "overall command timeout")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal(usage)
	}
	if *dsn == "" {
		log.Fatal("no DSN: set TRUSTCORE_PG_DSN or pass -dsn")
	}
	if err := run(flag.Arg(0), *dsn, *migrationsPath, *seedsPath, *timeout); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func run(command, dsn, migrationsPath, seedsPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrationsPath, seedsPath)

	switch command {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return nil
		}
		for i, name := range applied {
			fmt.Printf("%3d  %s\n", i+1, name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (%s)", command, usage)
	}
}
