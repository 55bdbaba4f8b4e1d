package gateway

import (
	"fmt"
	"log/slog"
	"sync"

	"atelier/pkg/api"
)

// GatewayManager 負責管理所有的 Channels 並統一路由工具呼叫
type GatewayManager struct {
	channels      map[string]Channel
	invHandler    InvocationHandler
	channelBuffer int // 內部 Channel 緩衝大小
	mu            sync.RWMutex
}

// NewGatewayManager 建立一個新的 GatewayManager
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels:      make(map[string]Channel),
		channelBuffer: 100, // 預設值
	}
}

// SetChannelBuffer 設定內部的 Channel 緩衝大小
func (g *GatewayManager) SetChannelBuffer(size int) {
	if size > 0 {
		g.channelBuffer = size
	}
}

// ChannelBuffer 取得內部的 Channel 緩衝大小
func (g *GatewayManager) ChannelBuffer() int {
	return g.channelBuffer
}

// SetInvocationHandler 設定處理工具呼叫的核心邏輯 (通常是 Dispatcher)
func (g *GatewayManager) SetInvocationHandler(handler InvocationHandler) {
	g.invHandler = handler
}

// Register 註冊一個 Channel
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel (通常用於主動發送訊息)
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll 啟動所有已註冊的 Channels
func (g *GatewayManager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("🚀 Starting channel", "channel", id)
		// 啟動 Channel，並傳入 self 作為 Context
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Warn("Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply 統一的文字回覆介面，透過 Channel 介面送回訊息
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendResult 將完整的工具結果 (文字與圖片) 送回來源 Channel
func (g *GatewayManager) SendResult(session SessionContext, res *api.ToolResult) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.SendResult(session, res)
}

// OnInvocation 實作 ChannelContext 介面，接收來自 Channel 的工具呼叫
func (g *GatewayManager) OnInvocation(channelID string, inv *Invocation) {
	if inv.Session.ChannelID == "" {
		inv.Session.ChannelID = channelID
	}
	slog.Info("Invocation received", "channel", channelID, "tool", inv.Tool, "user", inv.Session.Username)

	if g.invHandler != nil {
		g.invHandler(inv)
	} else {
		slog.Warn("⚠️ No invocation handler set", "channel", channelID)
	}
}
