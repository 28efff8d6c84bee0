// Package pgutil opens the bridge's PostgreSQL connection.
package pgutil

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/gasless-bridge/pkg/config"
)

// ConnectDB opens the quote/settlement store and verifies the
// connection before handing it back.
func ConnectDB(cfg *config.DatabaseConfig) (*bun.DB, error) {
	// functional options escape credentials with special characters
	connector := pgdriver.NewConnector(
		pgdriver.WithNetwork("tcp"),
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithApplicationName("gasless-bridge"),
		pgdriver.WithInsecure(cfg.SSLMode == "disable"),
	)

	db := bun.NewDB(sql.OpenDB(connector), pgdialect.New())

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database %s: %w", cfg.Database, err)
	}

	log.Printf("Connected to database %s", cfg.Database)
	return db, nil
}
