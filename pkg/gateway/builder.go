package gateway

import (
	"fmt"

	"atelier/pkg/api"
	"atelier/pkg/config"
	"atelier/pkg/monitor"
)

// GatewayBuilder provides a fluent builder pattern interface for constructing
// and initializing a GatewayManager with all its necessary dependencies.
//
// All components (channels, dispatcher, monitor) are pre-built and injected
// as instances — the Builder simply assembles and starts them.
type GatewayBuilder struct {
	gw             *GatewayManager                                      // The GatewayManager instance being constructed
	monitor        monitor.Monitor                                      // Monitoring implementation to be injected
	systemConfig   *config.SystemConfig                                 // Technical parameters for the gateway
	handlerBuilder func(api.InvocationResponder) api.InvocationHandler // Strategy to construct the invocation handler once the responder exists
	channels       []api.Channel                                        // Pre-built channel instances to register
}

// NewGatewayBuilder creates a fresh GatewayBuilder instance and allocates
// an internal GatewayManager to be configured.
func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{
		gw: NewGatewayManager(),
	}
}

// WithMonitor injects a monitoring implementation into the builder.
// This monitor will be started automatically during the Build() process.
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

// WithSystemConfig provides engine-level technical parameters to the builder,
// which are used to set up internal buffers and other system behaviors.
func (b *GatewayBuilder) WithSystemConfig(cfg *config.SystemConfig) *GatewayBuilder {
	b.systemConfig = cfg
	return b
}

// WithChannel adds pre-built channel instances to the gateway.
func (b *GatewayBuilder) WithChannel(channels ...api.Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithHandler registers the strategy that constructs the invocation handler.
// The builder calls it with the assembled gateway as the responder, so the
// handler can send replies and results back through the originating channel.
func (b *GatewayBuilder) WithHandler(build func(api.InvocationResponder) api.InvocationHandler) *GatewayBuilder {
	b.handlerBuilder = build
	return b
}

// Build finalizes the configuration, injects all dependencies into the
// GatewayManager, registers all channels, and starts everything.
// Returns the fully operational GatewayManager or an error if any stage fails.
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	// 0. Extract and apply system-level parameters
	if b.systemConfig != nil && b.systemConfig.InternalChannelBuffer > 0 {
		b.gw.SetChannelBuffer(b.systemConfig.InternalChannelBuffer)
	}

	// 1. Initialize and start the monitoring service
	if b.monitor != nil {
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	// 2. Register all pre-built channels
	for _, c := range b.channels {
		b.gw.Register(c)
	}

	// 3. Establish the core invocation handler using the registered strategy
	if b.handlerBuilder != nil {
		if handler := b.handlerBuilder(b.gw); handler != nil {
			b.gw.SetInvocationHandler(handler)
		}
	}

	// 4. Start all registered channels
	if err := b.gw.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return b.gw, nil
}
