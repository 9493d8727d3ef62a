// Package query exposes the read side as go-command queriers: the audit
// ledger feed and integrity checks, the operational log feed, tenant and
// subscription inventories, and per-tenant plan limits.
package query
