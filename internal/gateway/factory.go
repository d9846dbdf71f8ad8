package gateway

import (
	"fmt"
	"strings"

	"booner/internal/config"
	"booner/internal/gateway/advisor"
	"booner/internal/gateway/venue"
	"booner/internal/metrics"
)

// NewVenueFromConfig builds the execution venue named by trading.venue.
func NewVenueFromConfig(cfg config.TradingConfig) (venue.Venue, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Venue))
	switch name {
	case "", "paper":
		return venue.NewPaper(), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", cfg.Venue)
	}
}

// NewAdvisorFromConfig returns the chat-completions client when the advisor
// is enabled and a no-op otherwise.
func NewAdvisorFromConfig(cfg config.AdvisorConfig, m *metrics.Metrics) advisor.Advisor {
	if !cfg.Enabled {
		return advisor.Noop{}
	}
	return advisor.NewClient(advisor.ClientConfig{
		BaseURL:          cfg.APIURL,
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Timeout:          cfg.Timeout(),
		MaxRetries:       cfg.MaxRetries,
		FailureThreshold: cfg.FailureThreshold,
		OpenDuration:     cfg.OpenDuration(),
	}, m)
}
