package feedsync

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the feed-sync processor component with the given registry
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "feed-sync",
		Factory:     NewComponent,
		Schema:      feedSyncSchema,
		Type:        "processor",
		Protocol:    "feed",
		Domain:      "collab",
		Description: "Optimistic view reconciliation over feed collections",
		Version:     "0.1.0",
	})
}
