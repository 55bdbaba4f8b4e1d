package imagen

import (
	"atelier/pkg/config"
)

// ProviderGroupConfig 定義一組模型的配置
// 作為 Factory 的輸入標準，對應 config.json 的 image 區塊
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory 定義建立 Image Client 的工廠介面
type ProviderFactory interface {
	// Create 根據配置建立一組 atomic clients（每個 model 一個）
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]ImageClient, error)
}

// 全域 Provider 註冊表
var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider 註冊一個 Provider Factory
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory 取得指定名稱的 Provider Factory
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
