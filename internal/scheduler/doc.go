// Package scheduler arms one repeating timer per monitored target and runs the
// probe -> record -> detect -> incident pipeline on every tick.
//
// The Registry is shared with the incident ledger, which arms its recovery
// watchers on it under a different key prefix.
package scheduler
