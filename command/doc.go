// Package command exposes go-command compatible handlers for the tenant and
// subscription state machines plus the ledger and operational log writers.
// Each lifecycle handler runs as one transaction: the row is locked, the
// transition validated, the entity updated, the ledger entry and its outbox
// row appended. Hooks, metrics and operational log lines run after commit.
package command
