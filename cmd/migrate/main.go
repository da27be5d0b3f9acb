package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory (default: migrations embedded in the binary)")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate work on files only.
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.NewMigrationFile(target, *name, time.Now())
		exitOn(err, "create migration")
		fmt.Println("created migration:", path)
		return
	case "validate":
		exitOn(migrate.Validate(migrate.Source(*dir)), "validate migrations")
		fmt.Println("migrations valid")
		return
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err, "connect database")
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	exitOn(err, "open sql database")
	runner, err := migrate.NewRunner(sqlDB, migrate.Source(*dir), logg)
	exitOn(err, "build migration runner")

	switch *cmd {
	case "up":
		exitOn(runner.Up(ctx), "migrate up")
	case "down":
		exitOn(runner.Down(ctx), "migrate down")
	case "version":
		if *version == "" {
			exitOn(fmt.Errorf("-version is required"), "migrate to version")
		}
		exitOn(runner.ToVersion(ctx, *version), "migrate to version")
	case "status":
		rows, err := runner.Status(ctx)
		exitOn(err, "migration status")
		printStatus(rows)
	default:
		exitOn(fmt.Errorf("unknown -cmd %q", *cmd), "migrate")
	}
	logg.Info(ctx, "migrate finished")
}

func printStatus(rows []migrate.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, row := range rows {
		state, appliedAt := "pending", "-"
		if row.Applied {
			state, appliedAt = "applied", row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", row.Version, state, appliedAt, row.Path)
	}
	_ = w.Flush()
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
