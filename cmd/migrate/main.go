package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/jafarshop/catalogsync/internal/config"
	"github.com/jafarshop/catalogsync/internal/repository/postgres"
)

func main() {
	pathFlag := flag.String("path", "", "Migrations directory (defaults to MIGRATIONS_PATH)")
	stepsFlag := flag.Int("steps", 0, "Number of migrations to roll back with 'down' (0 = all)")
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	if command != "up" && command != "down" && command != "version" {
		fmt.Println("Usage: go run cmd/migrate/main.go [--path migrations] [--steps N] up|down|version")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	path := cfg.MigrationsPath
	if *pathFlag != "" {
		path = *pathFlag
	}

	m, err := postgres.NewMigrator(cfg.Database, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		if *stepsFlag > 0 {
			err = m.Steps(-*stepsFlag)
		} else {
			err = m.Down()
		}
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", command, err)
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Println("No migrations applied")
	case err != nil:
		fmt.Fprintf(os.Stderr, "Failed to read migration version: %v\n", err)
		os.Exit(1)
	default:
		fmt.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
	}
	if command != "version" {
		fmt.Printf("Migration %s completed successfully!\n", command)
	}
}
