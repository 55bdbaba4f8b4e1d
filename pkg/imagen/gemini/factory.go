package gemini

import (
	"fmt"

	"atelier/pkg/config"
	"atelier/pkg/imagen"
)

// GeminiFactory handles creation of Gemini Clients
type GeminiFactory struct{}

// Create implements ProviderFactory
func (f *GeminiFactory) Create(cfg imagen.ProviderGroupConfig, sys *config.SystemConfig) ([]imagen.ImageClient, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("gemini provider requires at least one api key")
	}

	var clients []imagen.ImageClient
	for _, model := range cfg.Models {
		client := NewGeminiClient(cfg.APIKeys[0], model, cfg.Options)
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	imagen.RegisterProvider("gemini", &GeminiFactory{})
}
