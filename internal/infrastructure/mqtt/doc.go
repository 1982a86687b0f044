// Package mqtt is the security event bus: a thin wrapper over
// paho.mqtt.golang publishing device revocations, share revocations, and
// issuance notices for external consumers such as denylist distributors and
// facility gateways.
//
// The bus is optional. When disabled, callers hold a nil *Client and every
// publish helper degrades to a no-op at the call site.
package mqtt
