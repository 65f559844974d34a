// Package migrations embeds the chat cache schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
