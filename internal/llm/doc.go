// Package llm contains adapters for invoking large language models as a
// semantic fallback when the heuristic intent parser cannot classify an
// utterance. Providers return raw JSON; interpretation lives in the intent
// package.
package llm
