// Package config loads and validates UnitKey Core configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// (UNITKEY_* pattern). Validation runs at load time so that misconfiguration
// fails startup rather than surfacing mid-request.
//
// Secrets (session JWT secret, InfluxDB token, MQTT credentials) should be
// supplied via environment variables rather than committed to the YAML file.
package config
