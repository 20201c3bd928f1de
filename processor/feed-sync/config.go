package feedsync

import (
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/feedsync/realtime"
)

// Config holds configuration for the feed-sync processor component
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// StreamName is the JetStream stream carrying feed events.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream name for feed events,category:advanced,default:FEED"`

	// AuthSecret is the HMAC secret for session tokens. Empty disables
	// token verification.
	AuthSecret string `json:"auth_secret" schema:"type:string,description:HMAC secret for session token verification,category:basic"`

	// IntentTimeout bounds how long a speculative intent waits for the
	// remote outcome before rolling back.
	IntentTimeout string `json:"intent_timeout" schema:"type:string,description:Deadline for remote writes before rollback,category:advanced,default:15s"`

	// CorrelationWindow bounds temp-id matching of pushed inserts
	// against speculative ones.
	CorrelationWindow string `json:"correlation_window" schema:"type:string,description:Window for matching pushed inserts to speculative ones,category:advanced,default:30s"`

	// EnrichmentPolicy is "placeholder" or "drop" for message pushes
	// whose sender profile cannot be resolved.
	EnrichmentPolicy string `json:"enrichment_policy" schema:"type:string,description:Handling of message pushes with unresolved profiles,category:advanced,default:placeholder"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if _, err := time.ParseDuration(c.IntentTimeout); c.IntentTimeout != "" && err != nil {
		return fmt.Errorf("invalid intent_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.CorrelationWindow); c.CorrelationWindow != "" && err != nil {
		return fmt.Errorf("invalid correlation_window: %w", err)
	}
	switch c.EnrichmentPolicy {
	case "", realtime.EnrichPlaceholder, realtime.EnrichDrop:
	default:
		return fmt.Errorf("enrichment_policy must be %q or %q",
			realtime.EnrichPlaceholder, realtime.EnrichDrop)
	}
	return nil
}

// GetIntentTimeout returns the intent timeout as a duration.
func (c *Config) GetIntentTimeout() time.Duration {
	d, err := time.ParseDuration(c.IntentTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// GetCorrelationWindow returns the correlation window as a duration.
func (c *Config) GetCorrelationWindow() time.Duration {
	d, err := time.ParseDuration(c.CorrelationWindow)
	if err != nil || d < 0 {
		return 30 * time.Second
	}
	return d
}

// DefaultConfig returns default configuration for the feed-sync processor
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "feed.events",
			Type:        "jetstream",
			Subject:     "feed.events.>",
			StreamName:  "FEED",
			Required:    true,
			Description: "Realtime feed change events",
		},
	}

	outputDefs := []component.PortDefinition{
		{
			Name:        "feed.events",
			Type:        "jetstream",
			Subject:     "feed.events.>",
			StreamName:  "FEED",
			Required:    true,
			Description: "Feed change events published after remote writes",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		StreamName:        "FEED",
		IntentTimeout:     "15s",
		CorrelationWindow: "30s",
		EnrichmentPolicy:  realtime.EnrichPlaceholder,
	}
}
