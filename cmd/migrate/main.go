package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/labloan-backend/internal/inventory"
	"github.com/angelmondragon/labloan-backend/internal/users"
	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/db"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/migrate"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate|seed")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch the filesystem.
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")

	if err := run(ctx, opts, cfg, logg, dbClient, sqlDB); err != nil {
		exitf("%s failed: %v", opts.cmd, err)
	}
}

func run(ctx context.Context, opts options, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, sqlDB *sql.DB) error {
	if opts.cmd == "seed" {
		return seed(ctx, cfg, logg, dbClient)
	}

	runner, err := migrate.NewRunner(sqlDB, opts.dir, logg)
	if err != nil {
		return err
	}
	switch opts.cmd {
	case "up", "down", "status":
		return runner.Run(ctx, opts.cmd)
	case "version":
		if opts.version == "" {
			return fmt.Errorf("missing -version for version command")
		}
		return runner.MigrateTo(ctx, opts.version)
	default:
		return fmt.Errorf("unknown -cmd value: %s", opts.cmd)
	}
}

// seed creates the bootstrap administrator and the sample lab inventory.
func seed(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) error {
	conn := dbClient.DB()
	created, err := users.EnsureAdmin(ctx, users.BootstrapParams{
		Repo:     users.NewRepository(conn),
		App:      cfg.App,
		Seed:     cfg.Seed,
		Password: cfg.Password,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repo:   inventory.NewRepository(conn),
		TX:     dbClient,
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Locks:  inventory.NewComponentLocks(),
		Logger: logg,
	})
	if err != nil {
		return fmt.Errorf("inventory service: %w", err)
	}
	inserted, err := inventoryService.SeedIfEmpty(ctx)
	if err != nil {
		return fmt.Errorf("seed inventory: %w", err)
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"admin_created":       created,
		"components_inserted": inserted,
	}), "seed complete")
	return nil
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
