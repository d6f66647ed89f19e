package migrations

import (
	"embed"
	"io/fs"
)

// Files exposes embedded SQL migration files ordered lexicographically.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// Postgres returns the migrations for the Supabase Postgres schema.
func Postgres() fs.FS {
	return sub("postgres")
}

// SQLite returns the migrations for the local SQLite database.
func SQLite() fs.FS {
	return sub("sqlite")
}

func sub(dir string) fs.FS {
	f, err := fs.Sub(Files, dir)
	if err != nil {
		panic(err)
	}
	return f
}
