// Package auth guards the two trust boundaries of the daemon: a presence
// check that must pass before a spending session is created, and a static
// bearer token in front of the HTTP API.
package auth
