package telegram

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"atelier/pkg/channels"
	"atelier/pkg/config"
	"atelier/pkg/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory 負責建立 Telegram Channels
type TelegramFactory struct{}

// Create 實作 ChannelFactory
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (gateway.Channel, error) {
	var tgCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}

	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	return NewTelegramChannel(tgCfg, system.TelegramMessageLimit, system.DownloadTimeoutMs)
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
