// Package db embeds the goose migrations of the entitlement store and the
// notification queue.
package db

import "embed"

// Migrations holds the SQL files under migrations/. Pass it to pg.Migrate
// with MigrationsPath "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS
