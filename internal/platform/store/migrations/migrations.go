// Package migrations embeds the Postgres schema's golang-migrate source
// files so cmd/aginosd-migrate ships them in the binary rather than reading
// loose files off disk, mirroring tarsy's embedded migrationsFS.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
