// Package directory provides read-only access to the facility, unit, lock,
// and user records maintained by the platform's management services.
//
// UnitKey Core never writes these tables. The Repository interface is the
// narrow surface the access resolver and sharing ledger consult; anything
// beyond it (unit CRUD, user administration, FMS sync) lives outside this
// service.
package directory
