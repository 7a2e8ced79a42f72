package migrations

import "embed"

// Embedded schema files, one directory per driver.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
