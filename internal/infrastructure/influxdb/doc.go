// Package influxdb records issuance metrics. Writes are batched and
// asynchronous; a failed or disabled metrics backend never affects token
// issuance.
package influxdb
