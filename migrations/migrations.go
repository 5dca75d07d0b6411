// Package migrations embeds the SQL schema files shipped with the binary.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Files is the migration set, .up.sql/.down.sql pairs at the root.
func Files() fs.FS { return files }

// Seeds is the idempotent seed set.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFiles, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
