// Package db provides the embedded database migrations and seed data.
package db

import "embed"

// Migrations holds the versioned golang-migrate files applied on startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Seed holds the starter catalog loaded by cmd/seed-db.
//
//go:embed seed/*.json
var Seed embed.FS
