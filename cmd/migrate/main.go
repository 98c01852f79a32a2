package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/Skryldev/mcp-user-tools/config"
	"github.com/Skryldev/mcp-user-tools/db"
	"github.com/Skryldev/mcp-user-tools/models"
	"github.com/Skryldev/mcp-user-tools/observability"
	"github.com/Skryldev/mcp-user-tools/repo"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf("loading config: %v", err)
	}
	logger, closer := observability.NewLogger(cfg.Log, os.Stderr)
	defer closer.Close()
	slog.SetDefault(logger)

	database, err := db.OpenWithDriver(cfg.Database.Driver, cfg.Database.DriverOptions(), cfg.Database.DBConfig())
	if err != nil {
		fatalf("opening database: %v", err)
	}
	defer database.Close()
	ctx := context.Background()

	command := args[0]
	switch command {
	case "up":
		if err := database.Bootstrap(ctx); err != nil {
			fatalf("up failed: %v", err)
		}
		slog.Info("migrations: up completed", "url", database.RedactedDSN())

	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				fatalf("down: invalid steps argument %q", args[1])
			}
			steps = n
		}
		withMigrator(database, func(m *migrate.Migrate) error {
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			return nil
		})
		slog.Info("migrations: down completed", "steps", steps)

	case "version":
		withMigrator(database, func(m *migrate.Migrate) error {
			v, dirty, err := m.Version()
			if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
				return err
			}
			fmt.Printf("version: %d  dirty: %v\n", v, dirty)
			return nil
		})

	case "force":
		if len(args) < 2 {
			fatalf("force: version argument required")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			fatalf("force: invalid version %q", args[1])
		}
		withMigrator(database, func(m *migrate.Migrate) error { return m.Force(v) })
		slog.Info("migrations: forced", "version", v)

	case "drop":
		fmt.Fprintln(os.Stderr, "WARNING: drop will destroy all tables. Type 'yes' to confirm:")
		var confirm string
		fmt.Scanln(&confirm)
		if confirm != "yes" {
			fmt.Println("aborted")
			os.Exit(0)
		}
		withMigrator(database, func(m *migrate.Migrate) error { return m.Drop() })
		slog.Info("migrations: all tables dropped")

	case "seed":
		svc := repo.NewUserDataService(database, repo.WithQueryTimeout(cfg.Database.QueryTimeout))
		n, err := svc.BatchInsertUsers(ctx, demoUsers())
		if err != nil {
			fatalf("seed failed after %d rows: %v", n, err)
		}
		slog.Info("seed: demo users inserted", "count", n)

	default:
		usage()
		os.Exit(1)
	}
}

// ─────────────────────────────────────────────────────────────────────────────

func withMigrator(database *db.DB, fn func(*migrate.Migrate) error) {
	m, err := database.Migrator()
	if err != nil {
		fatalf("migration init failed: %v", err)
	}
	m.Log = &migrateLogger{}
	err = fn(m)
	srcErr, dbErr := m.Close()
	if err != nil {
		fatalf("%v", err)
	}
	if srcErr != nil || dbErr != nil {
		slog.Warn("closing migrator", "source_error", srcErr, "database_error", dbErr)
	}
}

func demoUsers() []models.User {
	return []models.User{
		{Name: "Juan Pérez", Email: "juan.perez@empresa.com", Department: "IT", Role: "Developer", Active: true},
		{Name: "María García", Email: "maria.garcia@empresa.com", Department: "HR", Role: "Manager", Active: true},
		{Name: "Carlos López", Email: "carlos.lopez@empresa.com", Department: "Finance", Role: "Analyst", Active: true},
		{Name: "Ana Martínez", Email: "ana.martinez@empresa.com", Department: "IT", Role: "DevOps", Active: true},
		{Name: "Luis Rodríguez", Email: "luis.rodriguez@empresa.com", Department: "Marketing", Role: "Designer", Active: false},
	}
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}
func (l *migrateLogger) Verbose() bool { return false }

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate <command> [args]

Commands:
  up           Create the users schema if absent
  down [N]     Rollback N migrations (default: 1)
  version      Print current migration version
  force <V>    Force set migration version (bypass dirty state)
  drop         Drop all tables (dev only)
  seed         Insert demo users

Environment:
  DATABASE_DRIVER   sqlite3 (default), postgres, pgx or mysql
  DATABASE_DSN      Full DSN; built from DATABASE_HOST, DATABASE_PORT,
                    DATABASE_NAME, DATABASE_USERNAME and DATABASE_PASSWORD
                    when empty`)
}

func fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
