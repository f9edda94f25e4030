package database

import "embed"

// Migrations holds the SQL files that create and seed the mock catalog.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"
