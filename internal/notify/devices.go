package notify

import "sync"

// DeviceRegistry tracks push device tokens per user. A user with no
// registered device gets a soft push failure while email and SMS still run.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string][]string // user ID -> device tokens
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{devices: make(map[string][]string)}
}

// Register records a device token for the user. Registering the same token
// twice is a no-op.
func (r *DeviceRegistry) Register(userID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.devices[userID] {
		if t == token {
			return
		}
	}
	r.devices[userID] = append(r.devices[userID], token)
}

// Tokens returns the user's registered device tokens.
func (r *DeviceRegistry) Tokens(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.devices[userID]...)
}

// Count returns the total number of registered devices across all users.
func (r *DeviceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, tokens := range r.devices {
		total += len(tokens)
	}
	return total
}
