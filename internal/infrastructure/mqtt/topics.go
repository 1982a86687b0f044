package mqtt

// Topic layout for the security event bus. All topics live under the
// unitkey/ prefix; payloads are JSON.
const (
	// TopicDeviceRevoked announces a revoked device identity.
	TopicDeviceRevoked = "unitkey/devices/revoked"

	// TopicShareRevoked announces a revoked sharing grant.
	TopicShareRevoked = "unitkey/shares/revoked"

	// TopicPassIssued announces a route pass issuance. Consumers use the
	// jti and expiry to maintain their denylist windows.
	TopicPassIssued = "unitkey/passes/issued"

	// TopicSystemStatus carries the core's online/offline status, retained.
	TopicSystemStatus = "unitkey/system/status"
)
