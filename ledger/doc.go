// Package ledger stores audit entries in an append-only table.
//
// Entries are validated, fingerprinted with the checksum package and inserted
// exactly once. The repository exposes no way to change a stored entry:
// Update and Delete return types.ErrImmutable, and the bun model rejects
// update and delete queries built against it before they reach the database.
// Lifecycle commands append inside their own transaction through AppendTx so
// an entity mutation and the entry documenting it commit together.
package ledger
