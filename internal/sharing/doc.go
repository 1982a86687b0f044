// Package sharing owns the delegated-access graph: grants from a unit's
// primary tenant to another user, with access levels and optional expiry.
//
// Revoking a grant flips is_active rather than deleting the row, preserving
// the audit trail; a later invite for the same (unit, grantee) pair
// reactivates that same row. The uniqueness constraint on
// (unit_id, shared_with_user_id) makes reactivation an atomic upsert, so
// concurrent invites can never produce duplicate active rows.
package sharing
