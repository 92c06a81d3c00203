package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kevin07696/payment-orchestrator/internal/config"
	"github.com/kevin07696/payment-orchestrator/internal/db/migrations"
)

var flags = flag.NewFlagSet("migrate", flag.ExitOnError)

func main() {
	flags.Usage = usage
	_ = flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 1 {
		flags.Usage()
		return
	}

	dbCfg, err := config.LoadDatabaseFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}

	db, err := sql.Open("pgx", dbCfg.ConnectionString())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := migrations.Run(ctx, db, args[0], args[1:]...); err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Print(`Usage: migrate COMMAND

Migrations are embedded in the binary; the database is read from DB_* variables.

Commands:
    up                   Migrate the DB to the most recent version available
    up-by-one            Migrate the DB up by 1
    up-to VERSION        Migrate the DB to a specific VERSION
    down                 Roll back the version by 1
    down-to VERSION      Roll back to a specific VERSION
    redo                 Re-run the latest migration
    reset                Roll back all migrations
    status               Dump the migration status for the current DB
    version              Print the current version of the database
`)
}
