// Package ledger is the append-only audit log of route pass issuances.
//
// Rows are never updated or deleted. The last-issuance queries exist so a
// verifier can skip a denylist check once a user's latest pass is confirmed
// expired; distribution of the denylist itself lives outside this core.
package ledger
