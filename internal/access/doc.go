// Package access computes the audience list a route pass is scoped to.
//
// The resolver is a pure computation over three read surfaces: the unit/lock
// directory, the key-sharing ledger, and an optional per-facility schedule
// gate. It owns no storage. Role handling is a closed set dispatched once per
// request; zero resulting audiences is a valid outcome, not an error.
//
// Audience format:
//
//	lock:<lockID>                      primary or administrative access
//	shared_key:<grantorID>:<lockID>    delegated access, owner embedded
//
// The ordering is part of the contract: primary audiences first (ascending
// by lock id), then shared audiences (ascending by lock id). Lock firmware
// and downstream services compare these lists positionally.
package access
