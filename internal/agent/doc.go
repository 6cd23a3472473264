// Package agent contains the conversation orchestrator: the state machine that
// turns final transcripts into quotes, confirmations and swap executions. It
// decides between the manual confirmation path and session-delegated
// execution, reports every failure through speech, and hands submitted
// transactions to the settlement poller.
package agent
