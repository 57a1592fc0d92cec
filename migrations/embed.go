// Package migrations содержит SQL-миграции в формате golang-migrate (NNNNNN_name.up/down.sql).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
