// Package api exposes the orchestrator over HTTP for companion apps: inject
// transcripts, read conversation state, history, session and gas tank
// balances, and scrape metrics.
package api
