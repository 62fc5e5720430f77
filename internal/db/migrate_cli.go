package db

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand actions against the
// embedded migrations: up, down, status, version N and force N.
func RunMigrateCommand(w io.Writer, database *DB, args []string) error {
	return runMigrate(w, database, MigrationsFS(), args)
}

func runMigrate(w io.Writer, database *DB, migrations fs.FS, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing migrate action")
	}

	switch action := args[0]; action {
	case "up":
		log.Printf("Running migrations...")
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		return printVersion(w, database, migrations)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		return printVersion(w, database, migrations)

	case "status":
		status, err := database.GetMigrationStatus(migrations)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "=== Migration Status ===")
		fmt.Fprintf(w, "Current version: %d\n", status.Version)
		fmt.Fprintf(w, "Latest version: %d\n", status.Latest)
		fmt.Fprintf(w, "Dirty: %v\n", status.Dirty)
		if status.Dirty {
			fmt.Fprintln(w, "\nWARNING: a migration failed mid-execution.")
			fmt.Fprintln(w, "Inspect the database, then run: grideye migrate force <version>")
		}
		return nil

	case "version":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		log.Printf("Migrating to version %d...", v)
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
		return printVersion(w, database, migrations)

	case "force":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			return err
		}
		fmt.Fprintf(w, "Migration version forced to %d\n", v)
		return nil

	default:
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func versionArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("usage: grideye migrate %s <version_number>", args[0])
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version number: %s", args[1])
	}
	return v, nil
}

func printVersion(w io.Writer, database *DB, migrations fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}
