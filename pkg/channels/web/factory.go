package web

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"atelier/pkg/channels"
	"atelier/pkg/config"
	"atelier/pkg/gateway"
)

// WebFactory 負責建立 Web Channels
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (gateway.Channel, error) {
	var pCfg WebConfig
	// 設定預設 Port
	pCfg.Port = 8080

	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}

	return NewWebChannel(pCfg), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
