package openaiimg

import (
	"fmt"

	"atelier/pkg/config"
	"atelier/pkg/imagen"
)

// Factory handles creation of OpenAI image clients
type Factory struct{}

// Create implements ProviderFactory
func (f *Factory) Create(cfg imagen.ProviderGroupConfig, sys *config.SystemConfig) ([]imagen.ImageClient, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("openai provider requires at least one api key")
	}

	var clients []imagen.ImageClient
	for _, model := range cfg.Models {
		client, err := NewClient(cfg.APIKeys[0], model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	imagen.RegisterProvider("openai", &Factory{})
}
