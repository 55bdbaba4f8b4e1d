package imagen

import (
	"fmt"
	"log"

	"atelier/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewFromConfig 根據設定檔建立 image provider Router
func NewFromConfig(rawImage jsoniter.RawMessage, system *config.SystemConfig) (*Router, error) {
	if rawImage == nil {
		return nil, fmt.Errorf("missing 'image' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawImage, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'image' config: %v", err)
	}

	router := NewRouter()

	for _, group := range groups {
		log.Printf("Loading image provider group: %s (%d models)", group.Type, len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			log.Printf("⚠️ Unknown provider type: %s", group.Type)
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			log.Printf("⚠️ Failed to create clients for %s: %v", group.Type, err)
			continue
		}

		for _, c := range clients {
			router.Add(c)
		}
	}

	if router.Len() == 0 {
		return nil, fmt.Errorf("no image clients could be initialized")
	}

	log.Printf("✅ Total image clients initialized: %d", router.Len())
	return router, nil
}
