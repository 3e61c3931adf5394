package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	appmigrations "github.com/tecbrilho/erika-relay/migrations"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		fatal(logger, "DATABASE_URL is required", nil)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		fatal(logger, "open db", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		fatal(logger, "ping db", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fatal(logger, "db driver", err)
	}

	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		fatal(logger, "source driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		fatal(logger, "create migrator", err)
	}
	defer func() { _, _ = m.Close() }()

	// migrate force <version> | migrate down
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "force":
			if len(os.Args) < 3 {
				fatal(logger, "force requires a version", nil)
			}
			version, err := strconv.Atoi(os.Args[2])
			if err != nil {
				fatal(logger, "invalid version", err)
			}
			if err := m.Force(version); err != nil {
				fatal(logger, "force version", err)
			}
			logger.Info("forced migration version", "version", version)
			return
		case "down":
			if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				fatal(logger, "migrate down", err)
			}
			logger.Info("rolled back one migration")
			return
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal(logger, "migrate up", err)
	}

	logger.Info("migrations complete")
}

func fatal(logger *logging.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
