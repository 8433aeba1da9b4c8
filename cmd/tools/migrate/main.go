// Command migrate applies or rolls back the embedded SQL migrations.
//
//	migrate up          apply every pending migration
//	migrate down [n]    roll back n migrations (default 1)
//	migrate version     print the current schema version
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-billswift/internal/db"
	"github.com/noah-isme/backend-billswift/internal/obs"
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL"))

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	m, err := db.NewMigrator(databaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() { _, _ = m.Close() }()

	switch cmd {
	case "up":
		err = db.Up(m)
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil || steps < 1 {
				logger.Fatal().Str("arg", os.Args[2]).Msg("down expects a positive step count")
			}
		}
		err = db.Down(m, steps)
	case "version":
	default:
		fmt.Fprintf(os.Stderr, "usage: migrate [up|down [n]|version]\n")
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info().Str("command", cmd).Msg("schema is empty")
		return
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("read version")
	}
	logger.Info().Str("command", cmd).Uint("version", version).Bool("dirty", dirty).Msg("migrations done")
}
