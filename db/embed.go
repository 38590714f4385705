// Package db carries the embedded SQL migrations.
package db

import "embed"

// Migrations holds the schema migration files. They are applied in lexical
// order, so new migrations get the next numeric prefix.
//
//go:embed migrations/*.sql
var Migrations embed.FS
