// Package migrations embeds the MySQL schema for the swap history store.
package migrations

import "embed"

// Files 包含按版本前缀命名的 SQL 文件，例如 0001_swap_history.sql。
//
//go:embed *.sql
var Files embed.FS
