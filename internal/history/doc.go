// Package history records submitted swaps and their settlement status.
// Stores are safe for concurrent use: the orchestrator appends entries on its
// turn goroutine while settlement pollers update statuses from their own.
package history
