package events

import (
	"sync"
)

var (
	globalBus     EventBus
	globalBusLock sync.RWMutex
)

// SetGlobalEventBus sets the global event bus instance
func SetGlobalEventBus(bus EventBus) {
	globalBusLock.Lock()
	defer globalBusLock.Unlock()
	globalBus = bus
}

// GetGlobalEventBus returns the global event bus instance, or nil when the
// server runs without one (tests).
func GetGlobalEventBus() EventBus {
	globalBusLock.RLock()
	defer globalBusLock.RUnlock()
	return globalBus
}

// PublishAsync publishes to the global bus when one is configured.
func PublishAsync(event Event) {
	if bus := GetGlobalEventBus(); bus != nil {
		bus.PublishAsync(event)
	}
}
