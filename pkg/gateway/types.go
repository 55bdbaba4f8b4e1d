package gateway

import (
	"atelier/pkg/api"
)

// Re-export types from api package via aliases to maintain backward compatibility
// during the refactor.
type Channel = api.Channel
type ChannelContext = api.ChannelContext
type InvocationResponder = api.InvocationResponder
type Invocation = api.Invocation
type FileAttachment = api.FileAttachment
type SessionContext = api.SessionContext

// InvocationHandler is still defined here as a function type, or can be aliased.
type InvocationHandler = api.InvocationHandler
