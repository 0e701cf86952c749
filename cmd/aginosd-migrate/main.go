// Command aginosd-migrate applies or rolls back the Postgres schema,
// grounded on tarsy's pkg/database/client.go runMigrations (embedded
// golang-migrate source, postgres driver).
package main

import (
	stdsql "database/sql"
	"flag"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"aginosd/internal/platform/config"
	"aginosd/internal/platform/logger"
	"aginosd/internal/platform/store/migrations"
)

func main() {
	var (
		fDirection = flag.String("direction", "up", "up | down | steps")
		fSteps     = flag.Int("steps", 0, "steps to apply when -direction=steps (negative rolls back)")
	)
	flag.Parse()

	_ = godotenv.Load()

	l := logger.Get()

	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")
	dsn := dbCfg.MustString("DBURL")

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		l.Panic().Err(err).Msg("open pgx db failed")
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		l.Panic().Err(err).Msg("postgres driver init failed")
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		l.Panic().Err(err).Msg("migration source init failed")
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "aginosd", driver)
	if err != nil {
		l.Panic().Err(err).Msg("migrate instance init failed")
	}

	switch *fDirection {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		err = m.Steps(*fSteps)
	default:
		l.Panic().Str("direction", *fDirection).Msg("unknown -direction")
	}
	if err != nil && err != migrate.ErrNoChange {
		l.Panic().Err(err).Msg("migration failed")
	}

	fmt.Println("aginosd-migrate: done")
}
