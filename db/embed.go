// Package db provides embedded database schema and seed files.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the default catalog used by seed-db and the memory store.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
