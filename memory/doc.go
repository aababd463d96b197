// Package memory implements the bounded per-agent conversation log. A Memory
// keeps the most recent messages verbatim and folds older ones into a rolling
// summary through a pluggable Summarizer, so prompts stay within a fixed
// window regardless of how long an agent has been running.
package memory
