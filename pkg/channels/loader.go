package channels

import (
	"log/slog"

	"atelier/pkg/config"
	"atelier/pkg/gateway"

	jsoniter "github.com/json-iterator/go"
)

// LoadFromConfig acts as the central orchestration point for dynamic
// channel initialization. It iterates through the provided configuration
// map, resolves factories, and returns the constructed channels ready for
// registration with the GatewayManager.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, system *config.SystemConfig) []gateway.Channel {
	var out []gateway.Channel
	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, system)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// If Create returns nil (e.g., certain conditions not met but not an error), skip
		if channel == nil {
			continue
		}

		out = append(out, channel)
		slog.Info("✅ Channel created", "name", name)
	}
	return out
}
