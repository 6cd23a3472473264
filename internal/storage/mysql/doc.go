// Package mysql persists swap history in MySQL. It owns connection pooling and
// applies the embedded schema migrations from deploy/migrations on startup.
package mysql
