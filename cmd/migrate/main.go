package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/migrate"
)

type flags struct {
	dir     string
	name    string
	version string
}

// env carries what a command may touch; conn is nil for offline commands.
type env struct {
	cfg   *config.Config
	flags flags
	conn  *db.Client
	sqlDB *sql.DB
}

type command struct {
	online bool
	run    func(ctx context.Context, e env) (string, error)
}

var commands = map[string]command{
	"create":   {run: create},
	"validate": {run: validate},
	"up":       {online: true, run: goose("up")},
	"down":     {online: true, run: goose("down")},
	"status":   {online: true, run: goose("status")},
	"version":  {online: true, run: toVersion},
	"shards":   {online: true, run: seedShards},
}

func create(_ context.Context, e env) (string, error) {
	if e.flags.name == "" {
		return "", errors.New("missing -name")
	}
	path, err := migrate.CreateSQLMigration(e.flags.dir, e.flags.name)
	return "created " + path, err
}

func validate(_ context.Context, e env) (string, error) {
	return "migrations valid", migrate.ValidateDir(e.flags.dir)
}

func toVersion(ctx context.Context, e env) (string, error) {
	if e.flags.version == "" {
		return "", errors.New("missing -version")
	}
	return "migrated to " + e.flags.version, migrate.MigrateToVersion(ctx, e.sqlDB, e.flags.dir, e.flags.version)
}

func seedShards(ctx context.Context, e env) (string, error) {
	created, err := migrate.EnsurePlatformShards(ctx, e.conn.DB(), e.cfg.Ledger.PlatformShards)
	return fmt.Sprintf("platform shards ready (%d created, %d configured)", created, e.cfg.Ledger.PlatformShards), err
}

func goose(verb string) func(context.Context, env) (string, error) {
	return func(ctx context.Context, e env) (string, error) {
		return "goose " + verb + " done", migrate.Run(ctx, e.sqlDB, e.flags.dir, verb)
	}
}

func main() {
	_ = godotenv.Load()

	var f flags
	name := flag.String("cmd", "up", "one of: "+strings.Join(slices.Sorted(maps.Keys(commands)), "|"))
	flag.StringVar(&f.dir, "dir", migrate.DefaultDir, "migrations directory")
	flag.StringVar(&f.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&f.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cmd, ok := commands[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q\n", *name)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *name,
		"dir": f.dir,
	})

	e := env{cfg: cfg, flags: f}
	if cmd.online {
		conn, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "database unavailable", err)
			os.Exit(1)
		}
		defer conn.Close()
		if e.sqlDB, err = conn.DB().DB(); err != nil {
			logg.Error(ctx, "database unavailable", err)
			os.Exit(1)
		}
		e.conn = conn
	}

	msg, err := cmd.run(ctx, e)
	if err != nil {
		logg.Error(ctx, "migrate command failed", err)
		os.Exit(1)
	}
	fmt.Println(msg)
}
