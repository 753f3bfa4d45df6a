// Command migrate applies or rolls back the SQL files under migrations/
// against the database configured for this deployment.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/shopmindai/chatcore/internal/config"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recently applied migration instead of applying pending ones")
	path := flag.String("path", "migrations", "directory of .up.sql/.down.sql migration files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open postgres:", err)
		os.Exit(1)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "postgres driver:", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*path, "postgres", driver)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate instance:", err)
		os.Exit(1)
	}

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && err != migrate.ErrNoChange {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	fmt.Println("migrations applied")
}
