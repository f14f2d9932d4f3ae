// Command whizbang-migrate applies the Postgres schema migrations.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/whizbang-io/whizbang/migrations"
)

var dsn = flag.String("dsn", os.Getenv("WHIZBANG_DB_DSN"), "Postgres connection string (defaults to WHIZBANG_DB_DSN)")

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: whizbang-migrate [flags] <command>

Commands:
  up       Apply all pending migrations
  down     Roll back the most recent migration
  status   Print the migration status
  version  Print the current schema version

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	if *dsn == "" {
		log.Fatal("no connection string: pass -dsn or set WHIZBANG_DB_DSN")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	db, err := goose.OpenDBWithDriver("pgx", *dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	command := flag.Arg(0)
	switch command {
	case "up":
		err = goose.Up(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	default:
		log.Fatalf("Unknown command %q", command)
	}
	if err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}
